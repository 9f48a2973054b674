package uistream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/miguel-bm/slidechat/internal/agent"
)

const toolFailedText = "Tool execution failed"

// MapMessage derives the chunks for one agent message. Text deltas come back
// without a run id; the adapter assigns it. Unrecognized shapes map to nothing
// and are logged at debug level on the default logger.
func MapMessage(msg agent.Message) []Chunk {
	return mapMessage(msg, slog.Default())
}

func mapMessage(msg agent.Message, log *slog.Logger) []Chunk {
	switch m := msg.(type) {
	case agent.AssistantMessage:
		return mapAssistant(m, log)
	case agent.UserMessage:
		return mapUser(m, log)
	case agent.StreamEvent:
		return mapStreamEvent(m, log)
	case agent.ResultMessage, agent.SystemMessage:
		return nil
	case nil:
		return nil
	default:
		log.Debug("dropping unrecognized agent message", "type", msg.MsgType())
		return nil
	}
}

func mapAssistant(m agent.AssistantMessage, log *slog.Logger) []Chunk {
	var chunks []Chunk
	for _, block := range m.Content {
		switch b := block.(type) {
		case agent.TextBlock:
			if b.Text != "" {
				chunks = append(chunks, TextDelta(b.Text))
			}
		case agent.ToolUseBlock:
			chunks = append(chunks, ToolInputAvailable(b.ID, b.Name, b.Input))
		default:
			log.Debug("dropping assistant content block", "type", block.BlockType())
		}
	}
	return chunks
}

func mapUser(m agent.UserMessage, log *slog.Logger) []Chunk {
	var chunks []Chunk
	for _, block := range m.Content {
		b, ok := block.(agent.ToolResultBlock)
		if !ok {
			log.Debug("dropping user content block", "type", block.BlockType())
			continue
		}
		if b.IsError {
			chunks = append(chunks, ToolOutputError(b.ToolUseID, toolErrorText(b.Content)))
			continue
		}
		output := b.Content
		if output == nil {
			output = ""
		}
		chunks = append(chunks, ToolOutputAvailable(b.ToolUseID, output))
	}
	return chunks
}

func mapStreamEvent(m agent.StreamEvent, log *slog.Logger) []Chunk {
	ev, ok := m.Event.(agent.ContentBlockDeltaEvent)
	if !ok {
		if m.Event != nil {
			log.Debug("dropping stream event", "type", m.Event.EventType())
		}
		return nil
	}
	delta, ok := ev.Delta.(agent.TextDelta)
	if !ok {
		return nil
	}
	return []Chunk{TextDelta(delta.Text)}
}

// toolErrorText picks the error text of a failed tool result: string content
// as is, the "error" field of an object, or a generic message.
func toolErrorText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case map[string]any:
		if v, ok := c["error"]; ok {
			return stringify(v)
		}
	}
	return toolFailedText
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
