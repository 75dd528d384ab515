package clickhouse

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/tokenguard/tokenguard"
)

// Batch recorder defaults
const (
	DefaultBatchSize     = 64
	DefaultFlushInterval = 2 * time.Second
)

// BatchRecorder buffers events and writes them to ClickHouse in batches,
// flushed by size or interval, whichever comes first. It satisfies
// tokenguard.EventSink; put it behind a tokenguard.AsyncSink to keep even
// the buffering off the request path.
//
// A failed flush is logged and the batch dropped: the audit trail is
// advisory and must never wedge event delivery.
type BatchRecorder struct {
	store    *Store
	size     int
	interval time.Duration
	logger   pslog.Logger

	mu     sync.Mutex
	buf    []tokenguard.Event
	closed bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

var _ tokenguard.EventSink = (*BatchRecorder)(nil)

// BatchOption configures a BatchRecorder.
type BatchOption func(*BatchRecorder)

// WithBatchSize sets the flush threshold. Default: 64.
func WithBatchSize(n int) BatchOption {
	return func(r *BatchRecorder) {
		if n > 0 {
			r.size = n
		}
	}
}

// WithFlushInterval sets the time-based flush cadence. Default: 2 seconds.
func WithFlushInterval(d time.Duration) BatchOption {
	return func(r *BatchRecorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchLogger sets the logger for dropped batches.
func WithBatchLogger(logger pslog.Logger) BatchOption {
	return func(r *BatchRecorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewBatchRecorder starts a recorder around the store. Call Close to flush
// the tail and stop the ticker goroutine.
func NewBatchRecorder(s *Store, opts ...BatchOption) *BatchRecorder {
	r := &BatchRecorder{
		store:    s,
		size:     DefaultBatchSize,
		interval: DefaultFlushInterval,
		logger:   pslog.NoopLogger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.buf = make([]tokenguard.Event, 0, r.size)
	go r.loop()
	return r
}

// RecordEvent buffers the event, flushing when the batch is full.
func (r *BatchRecorder) RecordEvent(ctx context.Context, event tokenguard.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.buf = append(r.buf, event)
	if len(r.buf) >= r.size {
		r.flushLocked(ctx)
	}
	return nil
}

// Flush writes any buffered events immediately.
func (r *BatchRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		return nil
	}
	batch := r.buf
	r.buf = make([]tokenguard.Event, 0, r.size)
	return r.store.RecordEvents(ctx, batch)
}

// Close flushes the tail and stops the ticker. Safe to call more than once.
func (r *BatchRecorder) Close() error {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.flushLocked(ctx)
	return nil
}

func (r *BatchRecorder) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.mu.Lock()
			r.flushLocked(ctx)
			r.mu.Unlock()
			cancel()
		case <-r.stop:
			return
		}
	}
}

// flushLocked writes and resets the buffer; the caller holds r.mu.
func (r *BatchRecorder) flushLocked(ctx context.Context) {
	if len(r.buf) == 0 {
		return
	}
	batch := r.buf
	r.buf = make([]tokenguard.Event, 0, r.size)
	if err := r.store.RecordEvents(ctx, batch); err != nil {
		r.logger.Warn("dropping event batch after failed flush",
			"events", len(batch),
			"error", err,
		)
	}
}
