// Package stream consumes a provider event stream, splitting thinking
// from answer text and persisting live snapshots under a write-rate
// policy that bounds persistence frequency without ever losing the
// final state.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"aura/internal/thinking"
)

// ErrFinalWriteFailed marks a failed unconditional final write, the
// only persistence failure treated as fatal to the call: the durable
// record may not reflect the true final content.
var ErrFinalWriteFailed = errors.New("final snapshot write failed")

// Snapshot is the full state of one record at a point in the stream.
type Snapshot struct {
	SessionID string
	Role      string
	Content   string
	Thinking  *thinking.View
}

// Sink receives the snapshots that survive throttling. The first write
// for a key creates the backing record; later writes patch it.
type Sink interface {
	Insert(ctx context.Context, snap Snapshot) (string, error)
	Patch(ctx context.Context, id string, snap Snapshot) error
}

type recordState struct {
	id        string
	lastWrite time.Time
}

// ThrottledWriter bounds how often snapshots for a key are persisted.
// Non-final offers inside the throttle window are dropped; they are
// superseded by the next offer, and the final offer always writes, so
// correctness never depends on the window. Writes for the same key are
// issued one at a time by construction: Offer blocks until the write
// completes.
type ThrottledWriter struct {
	sink        Sink
	minInterval time.Duration
	records     map[string]*recordState
	logger      *slog.Logger
	now         func() time.Time
}

// NewThrottledWriter creates a writer with the given throttle window.
func NewThrottledWriter(sink Sink, minInterval time.Duration, logger *slog.Logger) *ThrottledWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThrottledWriter{
		sink:        sink,
		minInterval: minInterval,
		records:     make(map[string]*recordState),
		logger:      logger,
		now:         time.Now,
	}
}

// Offer submits a snapshot for the key. Final offers write
// unconditionally; the first offer for a key writes unconditionally
// and creates the record. A failed throttled write is logged and the
// state is retried on the next offer; only a failed final write is
// returned as an error.
func (w *ThrottledWriter) Offer(ctx context.Context, key string, snap Snapshot, isFinal bool) error {
	rs, ok := w.records[key]
	if !ok {
		id, err := w.sink.Insert(ctx, snap)
		if err != nil {
			if isFinal {
				return fmt.Errorf("%w: %v", ErrFinalWriteFailed, err)
			}
			w.logger.Warn("snapshot insert failed, will retry on next offer", "key", key, "error", err)
			return nil
		}
		w.records[key] = &recordState{id: id, lastWrite: w.now()}
		return nil
	}

	if !isFinal && w.now().Sub(rs.lastWrite) < w.minInterval {
		return nil // dropped, superseded by the next offer
	}

	if err := w.sink.Patch(ctx, rs.id, snap); err != nil {
		if isFinal {
			return fmt.Errorf("%w: %v", ErrFinalWriteFailed, err)
		}
		// lastWrite is left untouched so the next offer retries
		// immediately instead of waiting out the window.
		w.logger.Warn("snapshot patch failed, will retry on next offer", "key", key, "error", err)
		return nil
	}
	rs.lastWrite = w.now()
	return nil
}

// RecordID returns the backing record id for a key, if one was created.
func (w *ThrottledWriter) RecordID(key string) (string, bool) {
	rs, ok := w.records[key]
	if !ok {
		return "", false
	}
	return rs.id, true
}
