// Package websocket defines the frame envelope, action vocabulary and
// dispatch table for the daemon's WebSocket protocol. Every frame in
// both directions is a Message; request and response frames correlate
// by ID, server pushes go out as notifications without one.
package websocket

import (
	"encoding/json"
	"time"
)

// MessageType tags a frame's role in the protocol.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeNotification MessageType = "notification"
	MessageTypeError        MessageType = "error"
)

// Message is the single frame envelope. Field names are part of the
// wire contract with clients.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorPayload is the payload carried by error frames.
type ErrorPayload struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func newMessage(typ MessageType, id, action string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        id,
		Type:      typ,
		Action:    action,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewRequest builds a client request frame.
func NewRequest(id, action string, payload interface{}) (*Message, error) {
	return newMessage(MessageTypeRequest, id, action, payload)
}

// NewResponse builds the reply to a request, echoing its ID.
func NewResponse(id, action string, payload interface{}) (*Message, error) {
	return newMessage(MessageTypeResponse, id, action, payload)
}

// NewNotification builds a server push frame.
func NewNotification(action string, payload interface{}) (*Message, error) {
	return newMessage(MessageTypeNotification, "", action, payload)
}

// NewError builds an error frame answering a failed request.
func NewError(id, action, code, message string, details map[string]interface{}) (*Message, error) {
	return newMessage(MessageTypeError, id, action, ErrorPayload{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// ParsePayload decodes the frame payload into v. A frame without a
// payload leaves v untouched.
func (m *Message) ParsePayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
