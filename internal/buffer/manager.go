// Package buffer serializes fetch, append, clear and abort operations against
// a single media sink and keeps a virtual record of the segments that were
// handed to it.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/jmylchreest/ssbridge/internal/fetch"
	"github.com/jmylchreest/ssbridge/internal/fragment"
	"github.com/jmylchreest/ssbridge/internal/manifest"
	"github.com/jmylchreest/ssbridge/internal/observability"
	"github.com/jmylchreest/ssbridge/internal/task"
	"github.com/jmylchreest/ssbridge/pkg/httpclient"
)

// Default fetch settings.
const (
	DefaultMaxAttempts     = 3
	DefaultSegmentDuration = 2 * time.Second
	MinRetryDelay          = 250 * time.Millisecond
	MaxRetryDelay          = 5 * time.Second
)

// FetchRequest describes one Fetch call.
type FetchRequest struct {
	// Segments are fetched in order. Consecutive references sharing a URL are
	// retrieved with a single byte-range request.
	Segments []manifest.SegmentReference
	// InitSegment, when set, is appended before any media.
	InitSegment []byte
	// EarlyStopStatuses end the fetch successfully when a request fails with
	// one of them.
	EarlyStopStatuses *httpclient.StatusCodeSet
	// Stream carries the base URL, protocol and protection flag.
	Stream *manifest.Context
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMaxAttempts caps the attempts per byte-range request.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithDefaultSegmentDuration sets the nominal duration assumed for segments
// that carry no time window.
func WithDefaultSegmentDuration(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.defaultSegmentDuration = d
		}
	}
}

// Manager owns one sink. At most one operation runs at a time; starting a
// second one fails with ErrOperationInProgress.
type Manager struct {
	sink    Sink
	fetcher fetch.Fetcher
	logger  *slog.Logger

	maxAttempts            int
	defaultSegmentDuration time.Duration

	mu        sync.Mutex
	inserted  map[uint64]struct{}
	active    *task.Task
	destroyed bool
	// released is closed once active has been cleared.
	released chan struct{}
	// sinkPending is set while a sink operation's completion has not been
	// consumed yet, including one left behind by an abort.
	sinkPending bool
}

// NewManager creates a manager for sink, fetching media with fetcher.
func NewManager(sink Sink, fetcher fetch.Fetcher, opts ...Option) *Manager {
	m := &Manager{
		sink:                   sink,
		fetcher:                fetcher,
		logger:                 slog.Default(),
		maxAttempts:            DefaultMaxAttempts,
		defaultSegmentDuration: DefaultSegmentDuration,
		inserted:               make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = observability.WithComponent(m.logger, "buffer")
	return m
}

// IsInserted reports whether segment id was handed to the sink.
func (m *Manager) IsInserted(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inserted[id]
	return ok
}

// Inserted returns the ids of all inserted segments in ascending order.
func (m *Manager) Inserted() []uint64 {
	m.mu.Lock()
	ids := make([]uint64, 0, len(m.inserted))
	for id := range m.inserted {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// IsBuffered reports whether the sink holds media at t (seconds).
func (m *Manager) IsBuffered(t float64) bool {
	_, ok := m.sink.Buffered().Find(t)
	return ok
}

// BufferedAheadOf returns the seconds of media buffered from t to the end of
// the range containing it, or 0. A t past the range end but within Tolerance
// of it counts as buffered and yields 0, not a negative duration.
func (m *Manager) BufferedAheadOf(t float64) float64 {
	r, ok := m.sink.Buffered().Find(t)
	if !ok {
		return 0
	}
	return max(r.End-t, 0)
}

// Busy reports whether an operation is active.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Fetch retrieves req.Segments, rewrites them when the stream needs it, and
// appends them to the sink. It blocks until the operation is terminal and
// returns nil on success and on an early stop, task.ErrAborted when aborted,
// and the failure otherwise.
func (m *Manager) Fetch(ctx context.Context, req FetchRequest) error {
	t, err := m.begin("fetch")
	if err != nil {
		return err
	}
	defer m.end(t)

	if len(req.InitSegment) > 0 {
		initSegment := req.InitSegment
		t.Add("append-init", m.sinkStage(func() error { return m.sink.AppendBuffer(initSegment) }))
	}

	groups := groupSegments(req.Segments)
	for i := range groups {
		g := &groups[i]
		t.Add("fetch", task.Go(func(ctx context.Context) error { return m.fetchGroup(ctx, g, req) }))
		if req.Stream.IsLegacy() {
			t.Add("rewrite", task.Sync(func(context.Context) error {
				m.rewriteGroup(g, req.Stream)
				return nil
			}))
		}
		t.Add("append", m.sinkStage(func() error { return m.sink.AppendBuffer(g.data) }))
		t.Add("mark-inserted", task.Sync(func(context.Context) error {
			m.markInserted(g.refs)
			return nil
		}))
	}

	logger := m.logger.With(slog.String("task_id", t.ID().String()))
	logger.DebugContext(ctx, "fetch started",
		slog.Int("segments", len(req.Segments)),
		slog.Int("requests", len(groups)),
		slog.Bool("init_segment", len(req.InitSegment) > 0),
	)

	err = t.Run(ctx)
	switch {
	case err == nil && t.Stopped():
		logger.InfoContext(ctx, "fetch ended early")
	case err == nil:
		logger.DebugContext(ctx, "fetch completed")
	case errors.Is(err, task.ErrAborted):
		logger.DebugContext(ctx, "fetch aborted")
	default:
		observability.WithError(logger, err).WarnContext(ctx, "fetch failed")
	}
	return err
}

// Clear removes everything from the sink and forgets all inserted segments.
func (m *Manager) Clear(ctx context.Context) error {
	t, err := m.begin("clear")
	if err != nil {
		return err
	}
	defer m.end(t)

	if len(m.sink.Buffered()) == 0 {
		t.Add("verify-empty", task.Sync(func(ctx context.Context) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			if n := len(m.inserted); n > 0 {
				m.logger.WarnContext(ctx, "sink is empty but segments are marked inserted", slog.Int("count", n))
				clear(m.inserted)
			}
			return nil
		}))
	} else {
		t.Add("remove", m.sinkStage(func() error {
			if err := m.sink.Remove(0, math.Inf(1)); err != nil {
				return err
			}
			// The sink is going to drop everything; do not wait for it.
			m.Reset()
			return nil
		}))
	}

	err = t.Run(ctx)
	if err != nil && !errors.Is(err, task.ErrAborted) {
		observability.WithError(m.logger, err).WarnContext(ctx, "clear failed")
	}
	return err
}

// Reset forgets all inserted segments without touching the sink.
func (m *Manager) Reset() {
	m.mu.Lock()
	clear(m.inserted)
	m.mu.Unlock()
}

// Abort cancels the active operation, if any, and waits until the manager
// accepts a new one.
func (m *Manager) Abort() {
	m.mu.Lock()
	t, released := m.active, m.released
	m.mu.Unlock()
	if t == nil {
		return
	}
	t.Abort()
	<-released
}

// Destroy aborts the active operation and releases all state. Further
// operations fail with ErrDestroyed.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.mu.Unlock()

	m.Abort()

	m.mu.Lock()
	m.inserted = make(map[uint64]struct{})
	m.mu.Unlock()
}

func (m *Manager) begin(name string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return nil, ErrDestroyed
	}
	if m.active != nil {
		return nil, fmt.Errorf("%w: %s while %s is running", ErrOperationInProgress, name, m.active.Name())
	}
	m.active = task.New(name, m.logger)
	m.released = make(chan struct{})
	return m.active, nil
}

func (m *Manager) end(t *task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == t {
		m.active = nil
		close(m.released)
	}
}

func (m *Manager) markInserted(refs []manifest.SegmentReference) {
	m.mu.Lock()
	for _, r := range refs {
		m.inserted[r.ID] = struct{}{}
	}
	m.mu.Unlock()
}

func (m *Manager) setSinkPending(v bool) {
	m.mu.Lock()
	m.sinkPending = v
	m.mu.Unlock()
}

func (m *Manager) isSinkPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sinkPending
}

// sinkStage runs op against the sink and settles when the sink signals
// completion. A completion left behind by an earlier aborted operation is
// consumed first.
func (m *Manager) sinkStage(op func() error) task.StartFunc {
	return func(context.Context) (task.Pending, error) {
		var (
			mu      sync.Mutex
			stopped bool
			issued  bool
		)
		stop := make(chan struct{})
		done := make(chan error, 1)

		go func() {
			if m.isSinkPending() {
				select {
				case <-m.sink.UpdateEnd():
					m.setSinkPending(false)
				case <-stop:
					return
				}
			}

			mu.Lock()
			if stopped {
				mu.Unlock()
				return
			}
			if err := op(); err != nil {
				mu.Unlock()
				done <- err
				return
			}
			issued = true
			m.setSinkPending(true)
			mu.Unlock()

			select {
			case err := <-m.sink.UpdateEnd():
				m.setSinkPending(false)
				done <- err
			case <-stop:
			}
		}()

		abort := func() {
			mu.Lock()
			defer mu.Unlock()
			if stopped {
				return
			}
			stopped = true
			close(stop)
			if issued {
				m.abortSink()
			}
		}
		return task.Pending{Done: done, Abort: abort}, nil
	}
}

// abortSink aborts the pending sink operation when the sink allows it. When
// it does not, the operation's completion is consumed by the next sink stage.
func (m *Manager) abortSink() {
	if m.sink.ReadyState() != ReadyStateOpen {
		m.logger.Debug("sink not open, leaving pending operation to complete",
			slog.String("ready_state", m.sink.ReadyState().String()))
		return
	}
	if err := m.sink.Abort(); err != nil {
		observability.WithError(m.logger, err).Warn("sink abort failed")
		return
	}
	// A completion delivered while the abort was in flight belongs to the
	// aborted operation.
	select {
	case <-m.sink.UpdateEnd():
		m.logger.Debug("discarded completion of aborted sink operation")
	default:
	}
	m.setSinkPending(false)
}

// group is a run of consecutive references sharing one URL.
type group struct {
	refs []manifest.SegmentReference
	data []byte
}

func groupSegments(refs []manifest.SegmentReference) []group {
	var groups []group
	for _, r := range refs {
		if n := len(groups); n > 0 && groups[n-1].refs[0].URL == r.URL {
			groups[n-1].refs = append(groups[n-1].refs, r)
			continue
		}
		groups = append(groups, group{refs: []manifest.SegmentReference{r}})
	}
	return groups
}

func (g *group) first() manifest.SegmentReference { return g.refs[0] }
func (g *group) last() manifest.SegmentReference  { return g.refs[len(g.refs)-1] }

// nominalDuration sums the reference windows.
func (g *group) nominalDuration(fallback time.Duration) time.Duration {
	var total float64
	for _, r := range g.refs {
		if !r.HasTime() {
			return fallback * time.Duration(len(g.refs))
		}
		total += r.Duration()
	}
	return time.Duration(total * float64(time.Second))
}

func retryDelay(nominal time.Duration) time.Duration {
	return min(max(nominal/2, MinRetryDelay), MaxRetryDelay)
}

func (m *Manager) fetchGroup(ctx context.Context, g *group, req FetchRequest) error {
	u, err := req.Stream.ResolveURL(g.first().URL)
	if err != nil {
		return err
	}

	freq := fetch.Request{
		URL:            u,
		Start:          g.first().StartByte,
		End:            g.last().EndByte,
		MaxAttempts:    m.maxAttempts,
		BaseRetryDelay: retryDelay(g.nominalDuration(m.defaultSegmentDuration)),
	}
	data, err := m.fetcher.Fetch(ctx, freq)
	if err != nil {
		if status := fetch.StatusCode(err); req.EarlyStopStatuses.Contains(status) {
			m.logger.InfoContext(ctx, "early stop status, no more data available",
				slog.String("url", u),
				slog.Int("status", status),
				slog.Uint64("segment", g.first().ID),
			)
			return task.ErrStop
		}
		return err
	}
	g.data = data
	return nil
}

// rewriteGroup converts the fetched fragments. Each reference whose byte
// range lies within the fetched data is rewritten on its own with its id as
// base decode time.
func (m *Manager) rewriteGroup(g *group, stream *manifest.Context) {
	meta := func(r manifest.SegmentReference) fragment.Meta {
		return fragment.Meta{BaseTimestamp: r.ID, Encrypted: stream.Protected}
	}

	parts, ok := splitGroup(g)
	if !ok {
		out, rewritten := fragment.Rewrite(g.data, meta(g.first()))
		if !rewritten {
			m.logger.Debug("fragment passed through unchanged", slog.Uint64("segment", g.first().ID))
		}
		g.data = out
		return
	}

	var out []byte
	for i, p := range parts {
		rewritten, ok := fragment.Rewrite(p, meta(g.refs[i]))
		if !ok {
			m.logger.Debug("fragment passed through unchanged", slog.Uint64("segment", g.refs[i].ID))
		}
		out = append(out, rewritten...)
	}
	g.data = out
}

// splitGroup cuts the fetched data into one slice per reference.
func splitGroup(g *group) ([][]byte, bool) {
	if len(g.refs) < 2 {
		return nil, false
	}
	base := g.first().StartByte
	parts := make([][]byte, 0, len(g.refs))
	for _, r := range g.refs {
		start, end := r.StartByte-base, r.EndByte-base+1
		if r.EndByte < 0 || start < 0 || end > int64(len(g.data)) || start >= end {
			return nil, false
		}
		parts = append(parts, g.data[start:end])
	}
	return parts, true
}
