// Package worker runs book chunking off the interactive path.
//
// A Runner accepts one request at a time. The caller registers a handler
// with the request; the handler receives exactly one Response unless the
// returned Ticket is cancelled first. Cancelling does not stop the
// computation, it only drops its result.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/metcalfc/lire/internal/book"
	"github.com/metcalfc/lire/internal/chunker"
	"github.com/metcalfc/lire/internal/observe"
	"github.com/metcalfc/lire/internal/timing"
)

var (
	// ErrBusy is returned by Submit while another request is in flight.
	ErrBusy = errors.New("a chunking request is already in flight")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("runner closed")
)

// ProcessFunc turns chapters into a timed chunk sequence.
type ProcessFunc func(ctx context.Context, chapters []book.Chapter, cfg timing.Config) ([]book.TextChunk, error)

// Handler receives the outcome of a request.
type Handler func(Response)

// Runner executes chunking requests on a background goroutine.
type Runner struct {
	process ProcessFunc
	logger  *slog.Logger
	metrics *observe.Metrics

	mu     sync.Mutex
	busy   bool
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithProcessFunc replaces the chunking function.
func WithProcessFunc(fn ProcessFunc) Option {
	return func(r *Runner) { r.process = fn }
}

// WithChunkOptions configures the default chunking function.
func WithChunkOptions(opts ...chunker.Option) Option {
	return func(r *Runner) {
		r.process = func(ctx context.Context, chapters []book.Chapter, cfg timing.Config) ([]book.TextChunk, error) {
			return chunker.Process(ctx, chapters, cfg, opts...)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{}
	WithChunkOptions()(r)
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Busy reports whether a request is in flight.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

// Submit starts chunking chapters with cfg and returns a ticket for the
// request. handler is registered before work starts and is called from the
// worker goroutine. Returns ErrBusy when a request is already in flight,
// including one whose ticket was cancelled but whose work has not finished.
func (r *Runner) Submit(ctx context.Context, chapters []book.Chapter, cfg timing.Config, handler Handler) (*Ticket, error) {
	if handler == nil {
		return nil, errors.New("worker: nil handler")
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate request id: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if r.busy {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.busy = true
	r.wg.Add(1)
	r.mu.Unlock()

	req := Request{
		ID:           "req-" + id,
		Kind:         KindProcessChapters,
		Chapters:     chapters,
		TimingConfig: cfg,
	}
	t := newTicket(req.ID, handler)

	r.logger.Debug("chunking request submitted",
		"request_id", req.ID,
		"chapters", len(chapters),
		"wpm", cfg.WPM,
	)

	go r.run(context.WithoutCancel(ctx), req, t)
	return t, nil
}

// Do submits a request and waits for its outcome. If ctx ends first the
// ticket is cancelled and ctx.Err() is returned.
func (r *Runner) Do(ctx context.Context, chapters []book.Chapter, cfg timing.Config) ([]book.TextChunk, error) {
	ch := make(chan Response, 1)
	t, err := r.Submit(ctx, chapters, cfg, func(resp Response) { ch <- resp })
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if err := resp.Err(); err != nil {
			return nil, err
		}
		return resp.Chunks, nil
	case <-ctx.Done():
		t.Cancel()
		return nil, ctx.Err()
	}
}

// Close rejects new requests and waits for in-flight work to finish.
func (r *Runner) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
	return nil
}

func (r *Runner) run(ctx context.Context, req Request, t *Ticket) {
	defer r.wg.Done()

	start := time.Now()
	resp := r.execute(ctx, req)
	elapsed := time.Since(start)
	r.metrics.RecordChunking(ctx, elapsed, len(resp.Chunks), resp.Err())

	r.mu.Lock()
	r.busy = false
	r.mu.Unlock()

	if err := resp.Err(); err != nil {
		r.logger.Warn("chunking request failed", "request_id", req.ID, "error", err)
	} else {
		r.logger.Debug("chunking request done",
			"request_id", req.ID,
			"chunks", len(resp.Chunks),
			"elapsed", elapsed,
		)
	}

	if !t.deliver(resp) {
		r.logger.Debug("chunking result dropped", "request_id", req.ID)
	}
}

// execute runs the request, converting panics into ERROR responses.
func (r *Runner) execute(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if p := recover(); p != nil {
			resp = failure(req.ID, fmt.Errorf("chunking failed unexpectedly: %v", p))
		}
	}()

	if req.Kind != KindProcessChapters {
		return failure(req.ID, fmt.Errorf("%w: %q", errUnknownKind, req.Kind))
	}
	chunks, err := r.process(ctx, req.Chapters, req.TimingConfig)
	if err != nil {
		return failure(req.ID, err)
	}
	return success(req.ID, chunks)
}

const (
	ticketPending int32 = iota
	ticketDelivered
	ticketCancelled
)

// Ticket tracks one submitted request.
type Ticket struct {
	id      string
	handler Handler
	state   atomic.Int32
	done    chan struct{}
}

func newTicket(id string, h Handler) *Ticket {
	return &Ticket{id: id, handler: h, done: make(chan struct{})}
}

// ID returns the request identifier.
func (t *Ticket) ID() string { return t.id }

// Cancel stops delivery of the response. It reports whether it won the race
// against delivery; once it returns true the handler is never called.
func (t *Ticket) Cancel() bool {
	if t.state.CompareAndSwap(ticketPending, ticketCancelled) {
		close(t.done)
		return true
	}
	return false
}

// Done is closed once the ticket is resolved, by delivery or cancellation.
func (t *Ticket) Done() <-chan struct{} { return t.done }

func (t *Ticket) deliver(resp Response) bool {
	if !t.state.CompareAndSwap(ticketPending, ticketDelivered) {
		return false
	}
	defer close(t.done)
	t.handler(resp)
	return true
}
