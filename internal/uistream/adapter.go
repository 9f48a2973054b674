package uistream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/miguel-bm/slidechat/internal/agent"
)

// ChunkBufferSize is the default capacity of the hand-off channel between the
// producer goroutine and the consumer.
const ChunkBufferSize = 32

const fallbackErrorText = "Stream failed"

// errSinkClosed ends production after the consumer closed the Response.
var errSinkClosed = errors.New("uistream: consumer closed")

// Adapter runs agent queries and streams their output as UI chunks.
type Adapter struct {
	querier    agent.Querier
	defaults   agent.Options
	newID      func() string
	bufferSize int
	logger     *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithDefaults replaces the base agent options that per-request overrides merge onto.
func WithDefaults(opts agent.Options) Option {
	return func(a *Adapter) { a.defaults = opts }
}

// WithMessageIDFunc replaces the message id generator.
func WithMessageIDFunc(f func() string) Option {
	return func(a *Adapter) { a.newID = f }
}

// WithBufferSize sets the hand-off channel capacity; n <= 0 keeps ChunkBufferSize.
func WithBufferSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.bufferSize = n
		}
	}
}

// WithLogger sets the logger for stream lifecycle and dropped agent output.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// New returns an Adapter that answers through q.
func New(q agent.Querier, opts ...Option) *Adapter {
	a := &Adapter{
		querier:    q,
		defaults:   agent.DefaultOptions(),
		newID:      NewMessageID,
		bufferSize: ChunkBufferSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewMessageID returns "msg_" followed by a ULID.
func NewMessageID() string {
	return "msg_" + ulid.Make().String()
}

// Defaults returns the base agent options.
func (a *Adapter) Defaults() agent.Options {
	return a.defaults.Merge(nil)
}

// Response is the consumer side of one streamed answer.
type Response struct {
	MessageID string

	chunks   <-chan Chunk
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// Chunks returns the chunk channel. It is closed once after the last chunk.
func (r *Response) Chunks() <-chan Chunk { return r.chunks }

// Done is closed when the producer goroutine has exited.
func (r *Response) Done() <-chan struct{} { return r.done }

// Wait blocks until the producer goroutine has exited.
func (r *Response) Wait() { <-r.done }

// Close tells the producer the consumer is gone, cancels the agent query and
// waits for the producer to exit. It is safe to call more than once and after
// the stream has completed.
func (r *Response) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.cancel()
	})
	<-r.done
}

// Collect drains the response into a slice.
func (r *Response) Collect() []Chunk {
	var out []Chunk
	for c := range r.chunks {
		out = append(out, c)
	}
	r.Wait()
	return out
}

// Stream answers the conversation. It returns immediately; chunks are
// produced by a goroutine that owns the write side of the channel. ctx bounds
// the agent query: its cancellation or deadline surfaces as an error chunk.
// The caller must drain Chunks or call Close.
func (a *Adapter) Stream(ctx context.Context, messages []UIMessage, overrides *agent.Overrides) *Response {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Chunk, a.bufferSize)
	resp := &Response{
		MessageID: a.newID(),
		chunks:    out,
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
		cancel:    cancel,
	}

	p := &producer{
		adapter:   a,
		messageID: resp.MessageID,
		out:       out,
		stop:      resp.stop,
		log:       a.logger.With("message_id", resp.MessageID),
	}
	go func() {
		defer close(resp.done)
		defer cancel()
		defer close(out)
		p.run(ctx, BuildPrompt(messages), a.defaults.Merge(overrides))
	}()
	return resp
}

// producer is the state of one streaming run. It is only touched by the
// producer goroutine.
type producer struct {
	adapter   *Adapter
	messageID string
	out       chan<- Chunk
	stop      <-chan struct{}
	text      textRun
	log       *slog.Logger
}

func (p *producer) run(ctx context.Context, prompt string, opts agent.Options) {
	log := p.log

	if err := p.emit(Start(p.messageID)); err != nil {
		log.Debug("chat stream consumer gone before start")
		return
	}

	err := p.consume(ctx, prompt, opts)
	if errors.Is(err, errSinkClosed) {
		log.Debug("chat stream consumer gone")
		return
	}

	if id, ok := p.text.close(); ok {
		if p.emit(TextEnd(id)) != nil {
			return
		}
	}

	if err != nil {
		log.Warn("chat stream failed", "error", err)
		_ = p.emit(Error(errorText(err)))
		return
	}
	_ = p.emit(Finish())
}

// consume forwards every mapped chunk of the agent stream. A panic while
// consuming is returned as the stream's failure.
func (p *producer) consume(ctx context.Context, prompt string, opts agent.Options) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("panic in chat stream", "panic", r)
			err = fmt.Errorf("%v", r)
		}
	}()

	stream, err := p.adapter.querier.Query(ctx, prompt, opts)
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Next() {
		for _, chunk := range mapMessage(stream.Current(), p.log) {
			if err := p.forward(chunk); err != nil {
				return err
			}
		}
	}
	return stream.Err()
}

// forward applies the text-run rules to chunk and emits it: the first delta
// of a run is preceded by text-start, and a tool call closes an open run.
func (p *producer) forward(chunk Chunk) error {
	switch chunk.Type {
	case ChunkTextDelta:
		id, opened := p.text.open(p.messageID)
		if opened {
			if err := p.emit(TextStart(id)); err != nil {
				return err
			}
		}
		chunk.ID = id
	case ChunkToolInputAvailable:
		if id, ok := p.text.close(); ok {
			if err := p.emit(TextEnd(id)); err != nil {
				return err
			}
		}
	}
	return p.emit(chunk)
}

// emit hands chunk to the consumer, giving up once the consumer has closed.
func (p *producer) emit(chunk Chunk) error {
	select {
	case <-p.stop:
		return errSinkClosed
	default:
	}
	select {
	case p.out <- chunk:
		return nil
	case <-p.stop:
		return errSinkClosed
	}
}

func errorText(err error) string {
	if err == nil || err.Error() == "" {
		return fallbackErrorText
	}
	return err.Error()
}
