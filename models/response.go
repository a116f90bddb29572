package models

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"` // conflict, device_offline, connect_failed, ...
	Message string      `json:"message,omitempty"`
}

func SuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

// ErrorResponse builds a failure body; code is optional and lets the UI
// branch without parsing the message.
func ErrorResponse(err string, code ...string) APIResponse {
	resp := APIResponse{
		Success: false,
		Error:   err,
	}
	if len(code) > 0 {
		resp.Code = code[0]
	}
	return resp
}

func MessageResponse(message string) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
	}
}
