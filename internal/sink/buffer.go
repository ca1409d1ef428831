// Package sink provides an in-process media source buffer. It accepts
// initialization and media segments one operation at a time, reports the
// presentation time it holds, and signals completion asynchronously.
package sink

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jmylchreest/ssbridge/internal/buffer"
	"github.com/jmylchreest/ssbridge/internal/observability"
)

// DefaultTimescale applies to tracks with no known initialization segment.
const DefaultTimescale = 10_000_000

// Errors returned synchronously by Buffer operations.
var (
	ErrUpdating     = errors.New("sink: an operation is already pending")
	ErrClosed       = errors.New("sink: parent resource is not open")
	ErrInvalidRange = errors.New("sink: invalid removal range")
)

// Option configures a Buffer.
type Option func(*Buffer)

// WithTimescale sets the timescale used for tracks without an init segment.
func WithTimescale(ts uint32) Option {
	return func(b *Buffer) {
		if ts > 0 {
			b.defaultTimescale = ts
		}
	}
}

// WithWriter copies every appended chunk to w, in order.
func WithWriter(w io.Writer) Option {
	return func(b *Buffer) { b.writer = w }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Buffer) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithLatency delays every completion by d.
func WithLatency(d time.Duration) Option {
	return func(b *Buffer) { b.latency = d }
}

// WithReadyState sets the initial ready state.
func WithReadyState(s buffer.ReadyState) Option {
	return func(b *Buffer) { b.state = s }
}

// Buffer implements buffer.Sink.
type Buffer struct {
	logger           *slog.Logger
	writer           io.Writer
	latency          time.Duration
	defaultTimescale uint32
	updateEnd        chan error

	mu         sync.Mutex
	state      buffer.ReadyState
	updating   bool
	generation uint64
	timer      *time.Timer
	timescales map[uint32]uint32
	ranges     buffer.TimeRanges
	appended   int64
}

var _ buffer.Sink = (*Buffer)(nil)

// New creates an open Buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		logger:           slog.Default(),
		defaultTimescale: DefaultTimescale,
		updateEnd:        make(chan error, 1),
		state:            buffer.ReadyStateOpen,
		timescales:       make(map[uint32]uint32),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = observability.WithComponent(b.logger, "sink")
	return b
}

// AppendBuffer starts appending data.
func (b *Buffer) AppendBuffer(data []byte) error {
	chunk := append([]byte(nil), data...)
	return b.start("append", func() error { return b.commitAppend(chunk) })
}

// Remove starts removing [start, end) seconds.
func (b *Buffer) Remove(start, end float64) error {
	if math.IsNaN(start) || math.IsNaN(end) || start < 0 || end <= start {
		return fmt.Errorf("%w: [%v, %v)", ErrInvalidRange, start, end)
	}
	return b.start("remove", func() error {
		b.ranges = b.ranges.Remove(start, end)
		return nil
	})
}

// Abort cancels the pending operation. Its completion is never delivered,
// and a completion sent but not yet received is discarded.
func (b *Buffer) Abort() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != buffer.ReadyStateOpen {
		return ErrClosed
	}
	b.cancelLocked()
	select {
	case <-b.updateEnd:
		b.logger.Debug("discarded completion of aborted operation")
	default:
	}
	return nil
}

// Buffered returns the buffered time ranges.
func (b *Buffer) Buffered() buffer.TimeRanges {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append(buffer.TimeRanges(nil), b.ranges...)
}

// ReadyState returns the parent resource state.
func (b *Buffer) ReadyState() buffer.ReadyState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetReadyState changes the parent resource state. Closing cancels any
// pending operation.
func (b *Buffer) SetReadyState(s buffer.ReadyState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
	if s == buffer.ReadyStateClosed {
		b.cancelLocked()
	}
}

// UpdateEnd delivers one value per completed operation.
func (b *Buffer) UpdateEnd() <-chan error { return b.updateEnd }

// Updating reports whether an operation is pending.
func (b *Buffer) Updating() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updating
}

// BytesAppended returns the total size of all appended chunks.
func (b *Buffer) BytesAppended() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appended
}

func (b *Buffer) start(op string, commit func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case buffer.ReadyStateClosed:
		return ErrClosed
	case buffer.ReadyStateEnded:
		b.state = buffer.ReadyStateOpen
	}
	if b.updating {
		return ErrUpdating
	}

	b.updating = true
	b.generation++
	gen := b.generation
	b.timer = time.AfterFunc(b.latency, func() { b.complete(op, gen, commit) })
	return nil
}

// complete applies an operation unless it was cancelled meanwhile.
func (b *Buffer) complete(op string, gen uint64, commit func() error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.updating || b.generation != gen {
		return
	}

	err := commit()
	b.updating = false
	b.timer = nil

	if err != nil {
		observability.WithError(b.logger, err).Warn("sink operation failed", slog.String("op", op))
	}

	// Sent under mu so Abort either cancels the operation or discards its
	// completion, never neither.
	select {
	case b.updateEnd <- err:
	default:
		b.logger.Warn("previous completion not consumed, dropping", slog.String("op", op))
	}
}

// commitAppend runs with mu held.
func (b *Buffer) commitAppend(data []byte) error {
	info, err := inspect(data)
	if err != nil {
		return err
	}

	if b.writer != nil {
		if _, err := b.writer.Write(data); err != nil {
			return fmt.Errorf("writing segment: %w", err)
		}
	}
	b.appended += int64(len(data))

	for id, ts := range info.timescales {
		b.timescales[id] = ts
	}
	for _, tr := range info.ranges {
		ts, ok := b.timescales[tr.trackID]
		if !ok {
			ts = b.defaultTimescale
		}
		r := tr.timeRange(ts)
		b.ranges = b.ranges.Add(r)
		b.logger.Debug("media appended",
			slog.Uint64("track_id", uint64(tr.trackID)),
			slog.String("range", r.String()),
		)
	}
	return nil
}

func (b *Buffer) cancelLocked() {
	if !b.updating {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.updating = false
	b.generation++
}
