package uistream

import (
	"encoding/json"
	"fmt"
)

// UIMessage is one conversation message as sent by the chat front end.
type UIMessage struct {
	ID       string          `json:"id,omitempty"`
	Role     string          `json:"role" jsonschema:"enum=user,enum=assistant,enum=system"`
	Parts    []UIMessagePart `json:"parts"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// UIMessagePart is one part of a UIMessage. Only text parts are interpreted;
// every other part type (tool calls, files, reasoning, ...) is kept opaque.
type UIMessagePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// Raw is the part exactly as received.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON tolerates any extra fields the front end attaches to a part.
func (p *UIMessagePart) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string          `json:"type"`
		Text json.RawMessage `json:"text"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	p.Type = head.Type
	p.Text = ""
	if head.Type == "text" && len(head.Text) > 0 {
		if err := json.Unmarshal(head.Text, &p.Text); err != nil {
			return fmt.Errorf("text part: %w", err)
		}
	}
	p.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes Raw back unchanged when present.
func (p UIMessagePart) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	type plain UIMessagePart
	return json.Marshal(plain(p))
}

// UnmarshalJSON tolerates extra message fields such as createdAt.
func (m *UIMessage) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID       string          `json:"id"`
		Role     string          `json:"role"`
		Parts    []UIMessagePart `json:"parts"`
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*m = UIMessage(wire)
	return nil
}

// NewUserMessage builds a single-text-part user message.
func NewUserMessage(text string) UIMessage {
	return UIMessage{Role: "user", Parts: []UIMessagePart{{Type: "text", Text: text}}}
}

// ChatRequest is the body of a chat request. ID, Trigger and MessageID are
// sent by stock chat clients and accepted, but only Messages is used.
type ChatRequest struct {
	ID        string      `json:"id,omitempty"`
	Messages  []UIMessage `json:"messages"`
	Trigger   string      `json:"trigger,omitempty"`
	MessageID string      `json:"messageId,omitempty"`
}
