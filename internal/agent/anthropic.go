package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultMaxTokens bounds a single Messages API response.
const DefaultMaxTokens int64 = 4096

// APIQuerier answers queries with the Anthropic Messages API directly.
// It produces the same message sequence as the CLI (optional text deltas,
// one assistant message, one result) but never runs tools, so MaxTurns,
// AllowedTools, PermissionMode and WorkDir are ignored.
type APIQuerier struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAPIQuerier creates a querier authenticated with apiKey. Extra request
// options (base URL, retries, HTTP client) are applied after the key.
func NewAPIQuerier(apiKey string, maxTokens int64, opts ...option.RequestOption) *APIQuerier {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &APIQuerier{
		client:    anthropic.NewClient(reqOpts...),
		maxTokens: maxTokens,
	}
}

func (q *APIQuerier) Query(ctx context.Context, prompt string, opts Options) (Stream, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		MaxTokens: q.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
	}

	return &apiStream{
		events:  q.client.Messages.NewStreaming(ctx, params),
		partial: opts.IncludePartialMessages,
		started: time.Now(),
	}, nil
}

// eventStream is the subset of the SDK's SSE stream that apiStream uses.
type eventStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

type apiStream struct {
	events  eventStream
	partial bool
	started time.Time

	message  anthropic.Message
	pending  []Message
	current  Message
	finished bool
	err      error
}

func (s *apiStream) Next() bool {
	for {
		if len(s.pending) > 0 {
			s.current = s.pending[0]
			s.pending = s.pending[1:]
			return true
		}
		if s.finished || s.err != nil {
			return false
		}

		if !s.events.Next() {
			if err := s.events.Err(); err != nil {
				s.err = fmt.Errorf("agent: messages stream: %w", err)
				return false
			}
			s.finished = true
			s.pending = append(s.pending, s.assistantMessage(), s.resultMessage())
			continue
		}

		event := s.events.Current()
		if err := s.message.Accumulate(event); err != nil {
			s.err = fmt.Errorf("agent: accumulate stream event: %w", err)
			return false
		}

		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			s.pending = append(s.pending, SystemMessage{Subtype: "init", SessionID: ev.Message.ID, Model: string(ev.Message.Model)})
		case anthropic.ContentBlockDeltaEvent:
			if !s.partial {
				continue
			}
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
				s.pending = append(s.pending, StreamEvent{
					SessionID: s.message.ID,
					Event:     ContentBlockDeltaEvent{Index: int(ev.Index), Delta: TextDelta{Text: delta.Text}},
				})
			}
		}
	}
}

func (s *apiStream) assistantMessage() Message {
	blocks := make([]ContentBlock, 0, len(s.message.Content))
	for _, block := range s.message.Content {
		switch block.Type {
		case "text":
			blocks = append(blocks, TextBlock{Text: block.Text})
		case "tool_use":
			blocks = append(blocks, ToolUseBlock{ID: block.ID, Name: block.Name, Input: toolInput(block.Input)})
		default:
			blocks = append(blocks, UnknownBlock{Type: ContentBlockType(block.Type)})
		}
	}
	return AssistantMessage{SessionID: s.message.ID, Model: string(s.message.Model), Content: blocks}
}

func (s *apiStream) resultMessage() Message {
	var text strings.Builder
	for _, block := range s.message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return ResultMessage{
		Subtype:    "success",
		Result:     text.String(),
		SessionID:  s.message.ID,
		NumTurns:   1,
		DurationMS: time.Since(s.started).Milliseconds(),
	}
}

func (s *apiStream) Current() Message { return s.current }

func (s *apiStream) Err() error { return s.err }

func (s *apiStream) Close() error { return s.events.Close() }
