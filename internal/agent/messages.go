// Package agent talks to the Claude agent: it runs queries and yields the
// agent's output as a typed message stream.
package agent

// MessageType discriminates between upstream message kinds.
type MessageType string

const (
	MessageTypeAssistant   MessageType = "assistant"
	MessageTypeUser        MessageType = "user"
	MessageTypeStreamEvent MessageType = "stream_event"
	MessageTypeResult      MessageType = "result"
	MessageTypeSystem      MessageType = "system"
)

// Message is one item of an agent stream. The concrete types are
// AssistantMessage, UserMessage, StreamEvent, ResultMessage, SystemMessage
// and UnknownMessage.
type Message interface {
	MsgType() MessageType
}

// AssistantMessage is a complete assistant turn.
type AssistantMessage struct {
	SessionID string
	Model     string
	Content   []ContentBlock
}

func (AssistantMessage) MsgType() MessageType { return MessageTypeAssistant }

// UserMessage carries tool results fed back to the model.
type UserMessage struct {
	SessionID string
	Content   []ContentBlock
}

func (UserMessage) MsgType() MessageType { return MessageTypeUser }

// StreamEvent wraps a partial-message event (only sent with partial messages enabled).
type StreamEvent struct {
	SessionID string
	Event     StreamEventData
}

func (StreamEvent) MsgType() MessageType { return MessageTypeStreamEvent }

// ResultMessage ends a query.
type ResultMessage struct {
	Subtype      string
	IsError      bool
	Result       string
	SessionID    string
	NumTurns     int
	DurationMS   int64
	TotalCostUSD float64
}

func (ResultMessage) MsgType() MessageType { return MessageTypeResult }

// SystemMessage reports session metadata such as the init handshake.
type SystemMessage struct {
	Subtype   string
	SessionID string
	Model     string
	CWD       string
	Tools     []string
}

func (SystemMessage) MsgType() MessageType { return MessageTypeSystem }

// UnknownMessage is any well-formed message whose type is not recognized.
type UnknownMessage struct {
	Type MessageType
}

func (m UnknownMessage) MsgType() MessageType { return m.Type }

// ContentBlockType discriminates content blocks.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
)

// ContentBlock is one block of an assistant or user message.
type ContentBlock interface {
	BlockType() ContentBlockType
}

type TextBlock struct {
	Text string
}

func (TextBlock) BlockType() ContentBlockType { return ContentBlockTypeText }

// ToolUseBlock is a tool invocation requested by the model. Input is nil
// when the agent sent no input object.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

func (ToolUseBlock) BlockType() ContentBlockType { return ContentBlockTypeToolUse }

// ToolResultBlock is the outcome of a tool invocation. Content holds the
// decoded JSON value (string, []any, map[string]any, ...) or nil when absent.
type ToolResultBlock struct {
	ToolUseID string
	Content   any
	IsError   bool
}

func (ToolResultBlock) BlockType() ContentBlockType { return ContentBlockTypeToolResult }

// UnknownBlock is a content block of an unrecognized type (thinking, image, ...).
type UnknownBlock struct {
	Type ContentBlockType
}

func (b UnknownBlock) BlockType() ContentBlockType { return b.Type }

// StreamEventType discriminates partial-message events.
type StreamEventType string

const (
	StreamEventTypeContentBlockDelta StreamEventType = "content_block_delta"
)

// StreamEventData is the payload of a StreamEvent.
type StreamEventData interface {
	EventType() StreamEventType
}

type ContentBlockDeltaEvent struct {
	Index int
	Delta Delta
}

func (ContentBlockDeltaEvent) EventType() StreamEventType { return StreamEventTypeContentBlockDelta }

// UnknownStreamEvent covers message_start, content_block_stop and friends.
type UnknownStreamEvent struct {
	Type StreamEventType
}

func (e UnknownStreamEvent) EventType() StreamEventType { return e.Type }

// DeltaType discriminates content block deltas.
type DeltaType string

const (
	DeltaTypeText DeltaType = "text_delta"
)

type Delta interface {
	DeltaType() DeltaType
}

type TextDelta struct {
	Text string
}

func (TextDelta) DeltaType() DeltaType { return DeltaTypeText }

// UnknownDelta covers input_json_delta, thinking_delta and friends.
type UnknownDelta struct {
	Type DeltaType
}

func (d UnknownDelta) DeltaType() DeltaType { return d.Type }
