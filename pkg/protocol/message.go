// Package protocol defines the wire envelope and message-type catalogue
// shared by the orchestrator and its peers.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message is the envelope carried on every peer connection. Content is
// type-specific and left raw until a handler parses it.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorContent is the content of an "error" envelope.
type ErrorContent struct {
	Code    string                 `json:"code,omitempty"`
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// New creates an envelope of the given type with a fresh id and timestamp.
func New(msgType string, content interface{}) (*Message, error) {
	data, err := marshalContent(content)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Content:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewReply creates an envelope answering the message with id requestID.
func NewReply(requestID, msgType string, content interface{}) (*Message, error) {
	msg, err := New(msgType, content)
	if err != nil {
		return nil, err
	}
	msg.RequestID = requestID
	return msg, nil
}

// NewError creates an "error" envelope answering requestID. requestID may
// be empty when the failing frame carried no id.
func NewError(requestID, code, errMsg string, details map[string]interface{}) *Message {
	msg, _ := New(TypeError, ErrorContent{
		Code:    code,
		Error:   errMsg,
		Details: details,
	})
	msg.RequestID = requestID
	return msg
}

// Stamp fills in a fresh id and current timestamp where absent. Every
// outbound frame passes through here exactly once.
func (m *Message) Stamp() {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
}

// ParseContent decodes the content into v. A nil content is not an error.
func (m *Message) ParseContent(v interface{}) error {
	if len(m.Content) == 0 {
		return nil
	}
	return json.Unmarshal(m.Content, v)
}

func marshalContent(content interface{}) (json.RawMessage, error) {
	if content == nil {
		return nil, nil
	}
	if raw, ok := content.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(content)
}
