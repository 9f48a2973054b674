// Package uistream turns an agent message stream into the chunked UI message
// stream consumed by the chat front end (the AI SDK "ui message stream"
// protocol, served as server-sent events).
package uistream

import (
	"encoding/json"
	"fmt"
)

// ChunkType discriminates UI stream chunks.
type ChunkType string

const (
	ChunkStart               ChunkType = "start"
	ChunkTextStart           ChunkType = "text-start"
	ChunkTextDelta           ChunkType = "text-delta"
	ChunkTextEnd             ChunkType = "text-end"
	ChunkToolInputAvailable  ChunkType = "tool-input-available"
	ChunkToolOutputAvailable ChunkType = "tool-output-available"
	ChunkToolOutputError     ChunkType = "tool-output-error"
	ChunkFinish              ChunkType = "finish"
	ChunkError               ChunkType = "error"
)

// Chunk is one unit of the UI message stream. Only the fields that belong to
// Type are meaningful; MarshalJSON writes exactly those.
type Chunk struct {
	Type       ChunkType      `json:"type" jsonschema:"enum=start,enum=text-start,enum=text-delta,enum=text-end,enum=tool-input-available,enum=tool-output-available,enum=tool-output-error,enum=finish,enum=error"`
	MessageID  string         `json:"messageId,omitempty"`
	ID         string         `json:"id,omitempty"`
	Delta      string         `json:"delta,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     any            `json:"output,omitempty"`
	ErrorText  string         `json:"errorText,omitempty"`
}

func Start(messageID string) Chunk { return Chunk{Type: ChunkStart, MessageID: messageID} }

func TextStart(id string) Chunk { return Chunk{Type: ChunkTextStart, ID: id} }

// TextDelta returns a delta chunk without a run id; the adapter stamps it.
func TextDelta(delta string) Chunk { return Chunk{Type: ChunkTextDelta, Delta: delta} }

func TextEnd(id string) Chunk { return Chunk{Type: ChunkTextEnd, ID: id} }

// ToolInputAvailable reports a tool call. A nil input is sent as {}.
func ToolInputAvailable(toolCallID, toolName string, input map[string]any) Chunk {
	if input == nil {
		input = map[string]any{}
	}
	return Chunk{Type: ChunkToolInputAvailable, ToolCallID: toolCallID, ToolName: toolName, Input: input}
}

func ToolOutputAvailable(toolCallID string, output any) Chunk {
	return Chunk{Type: ChunkToolOutputAvailable, ToolCallID: toolCallID, Output: output}
}

func ToolOutputError(toolCallID, errorText string) Chunk {
	return Chunk{Type: ChunkToolOutputError, ToolCallID: toolCallID, ErrorText: errorText}
}

func Finish() Chunk { return Chunk{Type: ChunkFinish} }

func Error(errorText string) Chunk { return Chunk{Type: ChunkError, ErrorText: errorText} }

// Terminal reports whether c ends the stream.
func (c Chunk) Terminal() bool {
	return c.Type == ChunkFinish || c.Type == ChunkError
}

// MarshalJSON writes the wire shape for c.Type. Fields are always present for
// their type, even when empty (an empty delta is still "delta":"").
func (c Chunk) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case ChunkStart:
		return json.Marshal(struct {
			Type      ChunkType `json:"type"`
			MessageID string    `json:"messageId"`
		}{c.Type, c.MessageID})
	case ChunkTextStart, ChunkTextEnd:
		return json.Marshal(struct {
			Type ChunkType `json:"type"`
			ID   string    `json:"id"`
		}{c.Type, c.ID})
	case ChunkTextDelta:
		return json.Marshal(struct {
			Type  ChunkType `json:"type"`
			ID    string    `json:"id"`
			Delta string    `json:"delta"`
		}{c.Type, c.ID, c.Delta})
	case ChunkToolInputAvailable:
		input := c.Input
		if input == nil {
			input = map[string]any{}
		}
		return json.Marshal(struct {
			Type       ChunkType      `json:"type"`
			ToolCallID string         `json:"toolCallId"`
			ToolName   string         `json:"toolName"`
			Input      map[string]any `json:"input"`
		}{c.Type, c.ToolCallID, c.ToolName, input})
	case ChunkToolOutputAvailable:
		return json.Marshal(struct {
			Type       ChunkType `json:"type"`
			ToolCallID string    `json:"toolCallId"`
			Output     any       `json:"output"`
		}{c.Type, c.ToolCallID, c.Output})
	case ChunkToolOutputError:
		return json.Marshal(struct {
			Type       ChunkType `json:"type"`
			ToolCallID string    `json:"toolCallId"`
			ErrorText  string    `json:"errorText"`
		}{c.Type, c.ToolCallID, c.ErrorText})
	case ChunkFinish:
		return json.Marshal(struct {
			Type ChunkType `json:"type"`
		}{c.Type})
	case ChunkError:
		return json.Marshal(struct {
			Type      ChunkType `json:"type"`
			ErrorText string    `json:"errorText"`
		}{c.Type, c.ErrorText})
	default:
		return nil, fmt.Errorf("uistream: unknown chunk type %q", c.Type)
	}
}
