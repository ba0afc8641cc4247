// Package stats is the sink collaborator of the rewrite engine: it keeps the
// persisted blocked-ad counters and delivers user-facing notices. Nothing in
// this package ever fails a rewrite; errors are logged and counted.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/polisai/polis-adblock/internal/governance"
	"github.com/polisai/polis-adblock/pkg/domain"
	"github.com/polisai/polis-adblock/pkg/storage"
)

// DefaultKey is the store key of the stats blob.
const DefaultKey = "adblock_stats"

// timeLayout is the format of Blob.LastUpdate.
const timeLayout = "2006-01-02 15:04:05"

// Blob is the persisted statistics document.
type Blob struct {
	Counters   map[string]int64 `json:"counters"`
	Total      int64            `json:"total"`
	LastUpdate string           `json:"last_update,omitempty"`
}

// Names returns the counter names sorted.
func (b Blob) Names() []string {
	names := make([]string, 0, len(b.Counters))
	for name := range b.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options configure a Sink.
type Options struct {
	Store     storage.Store
	Key       string
	Notifiers []Notifier
	Metrics   *Metrics
	Logger    *slog.Logger
	// Breakers guards each notifier by name. Nil calls notifiers unguarded.
	Breakers *governance.BreakerSet
	// Limiter throttles notices by title. Nil never throttles.
	Limiter *governance.RateLimiter
	// QueueSize bounds notices waiting for delivery once Start has been called.
	QueueSize int
	// Now overrides the clock.
	Now func() time.Time
}

// Sink records counters and posts notices.
type Sink struct {
	store     storage.Store
	key       string
	notifiers []Notifier
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
	breakers  *governance.BreakerSet
	limiter   *governance.RateLimiter

	// mu serializes the read-modify-write of the blob.
	mu sync.Mutex

	queue   chan domain.Notice
	started bool
	closed  bool
	done    chan struct{}
	qmu     sync.RWMutex
}

// NewSink builds a sink. A nil store keeps counters in memory.
func NewSink(opts Options) *Sink {
	store := opts.Store
	if store == nil {
		store = storage.NewMemoryStore()
	}
	key := opts.Key
	if key == "" {
		key = DefaultKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 64
	}
	return &Sink{
		store:     store,
		key:       key,
		notifiers: opts.Notifiers,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       now,
		breakers:  opts.Breakers,
		limiter:   opts.Limiter,
		queue:     make(chan domain.Notice, size),
		done:      make(chan struct{}),
	}
}

// Snapshot reads the persisted blob. Missing or corrupt state reads as zero counters.
func (s *Sink) Snapshot(ctx context.Context) Blob {
	blob := Blob{Counters: map[string]int64{}}

	raw, err := s.store.Read(ctx, s.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("stats read failed", "key", s.key, "error", err)
			s.recordStoreError("read")
		}
		return blob
	}
	if err := json.Unmarshal(raw, &blob); err != nil {
		s.logger.Warn("stats blob corrupt, starting from zero", "key", s.key, "error", err)
		return Blob{Counters: map[string]int64{}}
	}
	if blob.Counters == nil {
		blob.Counters = map[string]int64{}
	}
	return blob
}

// Increment adds one to counter and to the total.
func (s *Sink) Increment(ctx context.Context, counter string) {
	if counter == "" {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordBlocked(counter)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob := s.Snapshot(ctx)
	blob.Counters[counter]++
	blob.Total++
	blob.LastUpdate = s.now().Format(timeLayout)

	raw, err := json.Marshal(blob)
	if err != nil {
		s.logger.Error("stats encode failed", "error", err)
		return
	}
	if err := s.store.Write(ctx, s.key, raw); err != nil {
		s.logger.Warn("stats write failed", "key", s.key, "error", err)
		s.recordStoreError("write")
	}
}

// Post delivers a notice to every notifier. After Start it only enqueues and
// drops the notice when the queue is full. Throttled notices are dropped.
func (s *Sink) Post(ctx context.Context, n domain.Notice) {
	if n.IsZero() {
		return
	}
	if !s.limiter.Allow(n.Title) {
		s.logger.Debug("notice throttled", "title", n.Title)
		if s.metrics != nil {
			s.metrics.RecordNotice("limiter", "throttled")
		}
		return
	}

	s.qmu.RLock()
	defer s.qmu.RUnlock()
	if !s.started {
		s.deliver(ctx, n)
		return
	}
	select {
	case s.queue <- n:
	default:
		s.logger.Warn("notice queue full, dropping notice", "title", n.Title)
		if s.metrics != nil {
			s.metrics.RecordNotice("queue", "dropped")
		}
	}
}

// Start launches the delivery worker. It stops when ctx is done or Close is called.
func (s *Sink) Start(ctx context.Context) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-s.queue:
				if !ok {
					return
				}
				s.deliver(context.WithoutCancel(ctx), n)
			}
		}
	}()
}

// Close stops the worker after it drains queued notices.
func (s *Sink) Close() error {
	s.qmu.Lock()
	started := s.started
	if started {
		close(s.queue)
		s.started = false
	}
	s.closed = true
	s.qmu.Unlock()

	if started {
		<-s.done
	}
	return nil
}

func (s *Sink) deliver(ctx context.Context, n domain.Notice) {
	for _, notifier := range s.notifiers {
		status := "success"
		err := s.notify(ctx, notifier, n)
		switch {
		case errors.Is(err, governance.ErrCircuitOpen):
			status = "skipped"
			s.logger.Debug("notifier circuit open", "notifier", notifier.Name())
		case err != nil:
			status = "error"
			s.logger.Warn("notice delivery failed", "notifier", notifier.Name(), "error", err)
		}
		if s.metrics != nil {
			s.metrics.RecordNotice(notifier.Name(), status)
		}
	}
}

func (s *Sink) notify(ctx context.Context, notifier Notifier, n domain.Notice) error {
	if s.breakers == nil {
		return notifier.Notify(ctx, n)
	}
	return s.breakers.Get(notifier.Name()).Execute(ctx, func(ctx context.Context) error {
		return notifier.Notify(ctx, n)
	})
}

func (s *Sink) recordStoreError(op string) {
	if s.metrics != nil {
		s.metrics.RecordStoreError(op)
	}
}
