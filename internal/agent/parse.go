package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type wireMessage struct {
	Type         MessageType     `json:"type"`
	Subtype      string          `json:"subtype"`
	SessionID    string          `json:"session_id"`
	Message      *wireContent    `json:"message"`
	Event        json.RawMessage `json:"event"`
	IsError      bool            `json:"is_error"`
	Result       string          `json:"result"`
	NumTurns     int             `json:"num_turns"`
	DurationMS   int64           `json:"duration_ms"`
	TotalCostUSD float64         `json:"total_cost_usd"`
	Model        string          `json:"model"`
	CWD          string          `json:"cwd"`
	Tools        []string        `json:"tools"`
}

type wireContent struct {
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
}

type wireBlock struct {
	Type      ContentBlockType `json:"type"`
	Text      string           `json:"text"`
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Input     json.RawMessage  `json:"input"`
	ToolUseID string           `json:"tool_use_id"`
	Content   json.RawMessage  `json:"content"`
	IsError   bool             `json:"is_error"`
}

type wireEvent struct {
	Type  StreamEventType `json:"type"`
	Index int             `json:"index"`
	Delta *wireDelta      `json:"delta"`
}

type wireDelta struct {
	Type DeltaType `json:"type"`
	Text string    `json:"text"`
}

// ParseMessage decodes one line of the agent's stream-json output. A line
// that is not a JSON object is an error; a well-formed line of an unknown
// type decodes to UnknownMessage.
func ParseMessage(line []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	switch w.Type {
	case MessageTypeAssistant:
		m := AssistantMessage{SessionID: w.SessionID}
		if w.Message != nil {
			blocks, err := parseBlocks(w.Message.Content)
			if err != nil {
				return nil, err
			}
			m.Model = w.Message.Model
			m.Content = blocks
		}
		return m, nil

	case MessageTypeUser:
		m := UserMessage{SessionID: w.SessionID}
		if w.Message != nil {
			blocks, err := parseBlocks(w.Message.Content)
			if err != nil {
				return nil, err
			}
			m.Content = blocks
		}
		return m, nil

	case MessageTypeStreamEvent:
		event, err := parseStreamEvent(w.Event)
		if err != nil {
			return nil, err
		}
		return StreamEvent{SessionID: w.SessionID, Event: event}, nil

	case MessageTypeResult:
		return ResultMessage{
			Subtype:      w.Subtype,
			IsError:      w.IsError,
			Result:       w.Result,
			SessionID:    w.SessionID,
			NumTurns:     w.NumTurns,
			DurationMS:   w.DurationMS,
			TotalCostUSD: w.TotalCostUSD,
		}, nil

	case MessageTypeSystem:
		return SystemMessage{
			Subtype:   w.Subtype,
			SessionID: w.SessionID,
			Model:     w.Model,
			CWD:       w.CWD,
			Tools:     w.Tools,
		}, nil

	default:
		return UnknownMessage{Type: w.Type}, nil
	}
}

// parseBlocks decodes message content. Only array content carries blocks;
// string or absent content yields no blocks.
func parseBlocks(raw json.RawMessage) ([]ContentBlock, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, nil
	}

	var wire []wireBlock
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode content blocks: %w", err)
	}

	blocks := make([]ContentBlock, 0, len(wire))
	for _, b := range wire {
		switch b.Type {
		case ContentBlockTypeText:
			blocks = append(blocks, TextBlock{Text: b.Text})
		case ContentBlockTypeToolUse:
			blocks = append(blocks, ToolUseBlock{ID: b.ID, Name: b.Name, Input: toolInput(b.Input)})
		case ContentBlockTypeToolResult:
			content, err := decodeValue(b.Content)
			if err != nil {
				return nil, fmt.Errorf("decode tool result %s: %w", b.ToolUseID, err)
			}
			blocks = append(blocks, ToolResultBlock{ToolUseID: b.ToolUseID, Content: content, IsError: b.IsError})
		default:
			blocks = append(blocks, UnknownBlock{Type: b.Type})
		}
	}
	return blocks, nil
}

func parseStreamEvent(raw json.RawMessage) (StreamEventData, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return UnknownStreamEvent{}, nil
	}

	var e wireEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode stream event: %w", err)
	}

	if e.Type != StreamEventTypeContentBlockDelta {
		return UnknownStreamEvent{Type: e.Type}, nil
	}

	event := ContentBlockDeltaEvent{Index: e.Index}
	switch {
	case e.Delta == nil:
		event.Delta = UnknownDelta{}
	case e.Delta.Type == DeltaTypeText:
		event.Delta = TextDelta{Text: e.Delta.Text}
	default:
		event.Delta = UnknownDelta{Type: e.Delta.Type}
	}
	return event, nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// toolInput returns the tool call arguments as an object. Anything else,
// including a missing or malformed input, becomes an empty object.
func toolInput(raw json.RawMessage) map[string]any {
	input := map[string]any{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return input
	}
	if err := json.Unmarshal(trimmed, &input); err != nil {
		return map[string]any{}
	}
	return input
}
