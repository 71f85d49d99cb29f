package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// WriteBehind persists the store off the hot path. Mutations only mark the
// state dirty; the writer saves the latest snapshot at most once per interval
// so a burst of increments costs one write.
type WriteBehind struct {
	store     *Store
	persister Persister
	interval  time.Duration
	dirty     chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	saves     atomic.Int64
	logger    *slog.Logger
}

func NewWriteBehind(store *Store, persister Persister, interval time.Duration) *WriteBehind {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &WriteBehind{
		store:     store,
		persister: persister,
		interval:  interval,
		dirty:     make(chan struct{}, 1),
		done:      make(chan struct{}),
		logger:    slog.Default(),
	}
}

// LoadInto restores the store from the persister, if anything was saved
func (w *WriteBehind) LoadInto(ctx context.Context) (bool, error) {
	snap, err := w.persister.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("restore state: %w", err)
	}
	if snap == nil {
		return false, nil
	}
	w.store.Restore(*snap)
	w.logger.Info("state_restored", "counter", snap.Counter, "displays", len(snap.Displays))
	return true, nil
}

// OnChange marks the state dirty. It never blocks.
func (w *WriteBehind) OnChange(Change) {
	if w.closed.Load() {
		return
	}
	select {
	case w.dirty <- struct{}{}:
	default:
		// already pending
	}
}

// Saves reports how many snapshots were written
func (w *WriteBehind) Saves() int64 { return w.saves.Load() }

// Run writes pending snapshots until ctx is cancelled, then flushes once more.
func (w *WriteBehind) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	pending := false
	w.logger.Info("state_writer_started", "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.closed.Store(true)
			select {
			case <-w.dirty:
				pending = true
			default:
			}
			if pending {
				w.flush()
			}
			w.logger.Info("state_writer_stopped", "saves", w.saves.Load())
			return

		case <-w.dirty:
			pending = true

		case <-ticker.C:
			if pending {
				w.flush()
				pending = false
			}
		}
	}
}

// Wait blocks until Run has returned
func (w *WriteBehind) Wait() {
	<-w.done
}

func (w *WriteBehind) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()
	if err := w.persister.Save(ctx, w.store.Snapshot()); err != nil {
		// state stays in memory; the next change retries
		w.logger.Error("state_save_failed", "error", err)
		return
	}
	w.saves.Add(1)
	w.logger.Debug("state_saved", "duration_ms", time.Since(start).Milliseconds())
}
