package service

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"remoteconsole/models"
	"remoteconsole/transport"
)

// CommandSender is the part of CommandChannel that other components use
type CommandSender interface {
	Send(cmdType models.CommandType, payload map[string]interface{}) (uint64, error)
}

// ResultHandler receives command completions
type ResultHandler func(models.CommandResult)

// CommandStats counts command traffic for diagnostics
type CommandStats struct {
	Sent      uint64 `json:"sent"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	TimedOut  uint64 `json:"timed_out"`
}

type pendingCommand struct {
	cmd   models.Command
	timer *time.Timer
}

// Compile-time interface checks.
var (
	_ CommandSender   = (*CommandChannel)(nil)
	_ SessionObserver = (*CommandChannel)(nil)
)

// CommandChannel sends typed commands to the device and correlates the
// asynchronous command:completed events back by command type.
//
// Only one command per type is tracked: a second send of the same type
// before the first completes overwrites the pending marker, and the next
// completion of that type clears it. Every send also carries a request id,
// which devices may echo for tracing, but correlation stays type-based.
//
// With timeout == 0 a command the device never completes stays pending
// forever. A positive timeout synthesizes a failed result carrying
// ErrCommandTimeout and clears the marker.
type CommandChannel struct {
	transport transport.Transport
	timeout   time.Duration

	mu        sync.Mutex
	sessionID string
	nextID    uint64
	pending   map[models.CommandType]*pendingCommand
	stats     CommandStats

	subsMu  sync.RWMutex
	subs    map[models.CommandType]map[int]ResultHandler
	allSubs map[int]ResultHandler
	subID   int

	unsubscribe func()
}

func NewCommandChannel(t transport.Transport, timeout time.Duration) *CommandChannel {
	c := &CommandChannel{
		transport: t,
		timeout:   timeout,
		pending:   make(map[models.CommandType]*pendingCommand),
		subs:      make(map[models.CommandType]map[int]ResultHandler),
		allSubs:   make(map[int]ResultHandler),
	}
	c.unsubscribe = t.On(models.EventCommandCompleted, c.handleCompleted)
	return c
}

// Send marks cmdType pending and emits the command. The returned error only
// reflects a transport-level failure; the business outcome arrives later
// through subscribers.
func (c *CommandChannel) Send(cmdType models.CommandType, payload map[string]interface{}) (uint64, error) {
	c.mu.Lock()
	if c.sessionID == "" {
		c.mu.Unlock()
		return 0, ErrNoSession
	}
	c.nextID++
	id := c.nextID
	if old, ok := c.pending[cmdType]; ok && old.timer != nil {
		old.timer.Stop()
	}
	p := &pendingCommand{cmd: models.Command{
		Type:         cmdType,
		Payload:      payload,
		RequestID:    id,
		PendingSince: time.Now(),
	}}
	if c.timeout > 0 {
		p.timer = time.AfterFunc(c.timeout, func() { c.expire(cmdType, id) })
	}
	c.pending[cmdType] = p
	c.stats.Sent++
	msg := models.CommandMessage{
		SessionID: c.sessionID,
		RequestID: id,
		Type:      cmdType,
		Payload:   payload,
	}
	c.mu.Unlock()

	err := c.transport.Emit(models.EventCommand, msg, func(ackErr error) {
		if ackErr != nil {
			c.abandon(cmdType, id, ackErr)
		}
	})
	if err != nil {
		c.abandon(cmdType, id, err)
		return id, fmt.Errorf("sending %s: %w", cmdType, err)
	}
	return id, nil
}

// abandon clears a marker whose send failed and reports the failure
func (c *CommandChannel) abandon(cmdType models.CommandType, id uint64, cause error) {
	if !c.clearIf(cmdType, id) {
		return
	}
	log.Printf("⚠️ Command %s #%d not delivered: %v", cmdType, id, cause)
	c.mu.Lock()
	c.stats.Failed++
	c.mu.Unlock()
	c.publish(models.CommandResult{
		Type:      cmdType,
		RequestID: id,
		Success:   false,
		Error:     fmt.Sprintf("send failed: %v", cause),
	})
}

func (c *CommandChannel) expire(cmdType models.CommandType, id uint64) {
	if !c.clearIf(cmdType, id) {
		return
	}
	log.Printf("⏱️ Command %s #%d timed out after %s", cmdType, id, c.timeout)
	c.mu.Lock()
	c.stats.TimedOut++
	c.mu.Unlock()
	c.publish(models.CommandResult{
		Type:      cmdType,
		RequestID: id,
		Success:   false,
		Error:     ErrCommandTimeout.Error(),
	})
}

// clearIf removes the marker for cmdType only if it still belongs to id
func (c *CommandChannel) clearIf(cmdType models.CommandType, id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[cmdType]
	if !ok || p.cmd.RequestID != id {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(c.pending, cmdType)
	return true
}

type completedMessage struct {
	SessionID string `json:"session_id,omitempty"`
	models.CommandResult
}

func (c *CommandChannel) handleCompleted(payload json.RawMessage) {
	var msg completedMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Type == "" {
		log.Printf("⚠️ Dropping malformed command completion (%d bytes)", len(payload))
		return
	}
	result := msg.CommandResult

	c.mu.Lock()
	if c.sessionID == "" || (msg.SessionID != "" && msg.SessionID != c.sessionID) {
		c.mu.Unlock()
		return
	}
	if p, ok := c.pending[result.Type]; ok {
		if p.timer != nil {
			p.timer.Stop()
		}
		if result.RequestID == 0 {
			result.RequestID = p.cmd.RequestID
		}
		delete(c.pending, result.Type)
	}
	if result.Success {
		c.stats.Completed++
	} else {
		c.stats.Failed++
	}
	c.mu.Unlock()

	c.publish(result)
}

func (c *CommandChannel) publish(result models.CommandResult) {
	c.subsMu.RLock()
	handlers := make([]ResultHandler, 0, len(c.subs[result.Type])+len(c.allSubs))
	for _, h := range c.subs[result.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range c.allSubs {
		handlers = append(handlers, h)
	}
	c.subsMu.RUnlock()

	for _, h := range handlers {
		h(result)
	}
}

// Subscribe registers handler for completions of one command type
func (c *CommandChannel) Subscribe(cmdType models.CommandType, handler ResultHandler) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	id := c.subID
	c.subID++
	if c.subs[cmdType] == nil {
		c.subs[cmdType] = make(map[int]ResultHandler)
	}
	c.subs[cmdType][id] = handler
	return func() {
		c.subsMu.Lock()
		delete(c.subs[cmdType], id)
		c.subsMu.Unlock()
	}
}

// SubscribeAll registers handler for every completion
func (c *CommandChannel) SubscribeAll(handler ResultHandler) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	id := c.subID
	c.subID++
	c.allSubs[id] = handler
	return func() {
		c.subsMu.Lock()
		delete(c.allSubs, id)
		c.subsMu.Unlock()
	}
}

// Pending returns the in-flight commands ordered by type
func (c *CommandChannel) Pending() []models.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Command, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p.cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// IsPending reports whether a command of cmdType awaits completion
func (c *CommandChannel) IsPending(cmdType models.CommandType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[cmdType]
	return ok
}

func (c *CommandChannel) Stats() CommandStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *CommandChannel) SessionStarted(session models.Session, _ models.Device) {
	c.mu.Lock()
	c.sessionID = session.ID
	c.mu.Unlock()
}

// SessionEnded drops every pending marker without reporting results
func (c *CommandChannel) SessionEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for cmdType, p := range c.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(c.pending, cmdType)
	}
	c.sessionID = ""
}

func (c *CommandChannel) Close() {
	c.SessionEnded()
	c.unsubscribe()
}
