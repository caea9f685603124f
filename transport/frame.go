package transport

import (
	"encoding/json"
	"fmt"
)

// Frame is the JSON envelope exchanged over a connection. A request carries
// ID, Method, and Params; its response carries the same ID with Result or
// Error; a server push carries Method and Params with no ID.
type Frame struct {
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *FrameError     `json:"error,omitempty"`
}

// FrameError is the error member of a response frame.
type FrameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface so a FrameError can be returned
// directly as a request failure.
func (e *FrameError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// IsResponse reports whether the frame answers an outstanding request.
func (f *Frame) IsResponse() bool {
	return f.ID != 0 && f.Method == ""
}

// IsEvent reports whether the frame is an unsolicited server push.
func (f *Frame) IsEvent() bool {
	return f.Method != "" && f.ID == 0
}

// NewRequest builds a request frame, marshaling params to JSON.
// A nil params value produces a frame without a params member.
func NewRequest(id uint64, method string, params any) (*Frame, error) {
	f := &Frame{ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("transport: marshal params for %s: %w", method, err)
		}
		f.Params = raw
	}
	return f, nil
}

// NewNotification builds a fire-and-forget frame with no ID.
func NewNotification(method string, params any) (*Frame, error) {
	f, err := NewRequest(0, method, params)
	if err != nil {
		return nil, err
	}
	return f, nil
}
