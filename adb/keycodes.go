package adb

import (
	"fmt"
	"strconv"
	"strings"
)

// Common Android keycodes
const (
	AKEYCODE_HOME        = 3
	AKEYCODE_BACK        = 4
	AKEYCODE_0           = 7
	AKEYCODE_DPAD_UP     = 19
	AKEYCODE_DPAD_DOWN   = 20
	AKEYCODE_DPAD_LEFT   = 21
	AKEYCODE_DPAD_RIGHT  = 22
	AKEYCODE_VOLUME_UP   = 24
	AKEYCODE_VOLUME_DOWN = 25
	AKEYCODE_POWER       = 26
	AKEYCODE_A           = 29
	AKEYCODE_Z           = 54
	AKEYCODE_TAB         = 61
	AKEYCODE_SPACE       = 62
	AKEYCODE_ENTER       = 66
	AKEYCODE_DEL         = 67 // Backspace
	AKEYCODE_MENU        = 82
	AKEYCODE_ESCAPE      = 111
	AKEYCODE_FORWARD_DEL = 112 // Delete
	AKEYCODE_APP_SWITCH  = 187
)

var keyNames = map[string]int{
	"HOME":        AKEYCODE_HOME,
	"BACK":        AKEYCODE_BACK,
	"UP":          AKEYCODE_DPAD_UP,
	"DOWN":        AKEYCODE_DPAD_DOWN,
	"LEFT":        AKEYCODE_DPAD_LEFT,
	"RIGHT":       AKEYCODE_DPAD_RIGHT,
	"VOLUME_UP":   AKEYCODE_VOLUME_UP,
	"VOLUME_DOWN": AKEYCODE_VOLUME_DOWN,
	"POWER":       AKEYCODE_POWER,
	"TAB":         AKEYCODE_TAB,
	"SPACE":       AKEYCODE_SPACE,
	"ENTER":       AKEYCODE_ENTER,
	"BACKSPACE":   AKEYCODE_DEL,
	"MENU":        AKEYCODE_MENU,
	"ESCAPE":      AKEYCODE_ESCAPE,
	"DELETE":      AKEYCODE_FORWARD_DEL,
	"RECENTS":     AKEYCODE_APP_SWITCH,
}

// Keycode resolves a key name ("HOME", "enter", "a", "5") or a numeric
// keycode string to an Android keycode.
func Keycode(name string) (int, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if code, ok := keyNames[upper]; ok {
		return code, nil
	}
	if len(upper) == 1 {
		switch ch := upper[0]; {
		case ch >= 'A' && ch <= 'Z':
			return AKEYCODE_A + int(ch-'A'), nil
		case ch >= '0' && ch <= '9':
			return AKEYCODE_0 + int(ch-'0'), nil
		}
	}
	if code, err := strconv.Atoi(upper); err == nil && code > 0 {
		return code, nil
	}
	return 0, fmt.Errorf("unknown key %q", name)
}
