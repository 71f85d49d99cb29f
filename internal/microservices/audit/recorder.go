// Package audit records every command the relay handles in Postgres.
package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"panelbridge/internal/microservices/http-api/models"
	"panelbridge/internal/microservices/http-api/repository"
	"panelbridge/internal/microservices/relay"
)

const (
	defaultQueueSize     = 1024
	defaultBatchSize     = 100
	defaultFlushInterval = 2 * time.Second
)

// Recorder queues hub command events and writes them in batches. OnCommand
// runs on the hub goroutine, so a full queue drops the entry instead of
// blocking.
type Recorder struct {
	repo          repository.CommandLogRepository
	queue         chan models.CommandLog
	batchSize     int
	flushInterval time.Duration
	dropped       atomic.Int64
	written       atomic.Int64
	done          chan struct{}
	logger        *slog.Logger
}

type Options struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	Logger        *slog.Logger
}

func NewRecorder(repo repository.CommandLogRepository, opts Options) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Recorder{
		repo:          repo,
		queue:         make(chan models.CommandLog, opts.QueueSize),
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		done:          make(chan struct{}),
		logger:        opts.Logger,
	}
}

// OnCommand implements relay.CommandObserver
func (r *Recorder) OnCommand(ev relay.CommandEvent) {
	entry := models.CommandLog{
		SessionID: ev.Origin.SessionID,
		Source:    ev.Origin.Source,
		Raw:       ev.Raw,
		Topic:     ev.Topic,
		Accepted:  ev.Accepted,
		CreatedAt: ev.At,
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}

	if depth := len(r.queue); depth > cap(r.queue)/2 {
		r.logger.Warn("audit_queue_high_watermark", "queue_depth", depth)
	}

	select {
	case r.queue <- entry:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit_queue_full", "raw", ev.Raw)
	}
}

func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func (r *Recorder) Written() int64 { return r.written.Load() }

// Run writes queued entries until ctx is cancelled, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]models.CommandLog, 0, r.batchSize)
	r.logger.Info("audit_writer_started",
		"interval", r.flushInterval.String(),
		"batch_size", r.batchSize,
	)

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case entry := <-r.queue:
					batch = append(batch, entry)
				default:
					break drain
				}
			}
			r.logger.Info("audit_writer_shutting_down", "remaining", len(batch))
			r.flush(batch)
			return

		case entry := <-r.queue:
			batch = append(batch, entry)
			if len(batch) >= r.batchSize {
				r.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

// Wait blocks until Run has returned
func (r *Recorder) Wait() {
	<-r.done
}

func (r *Recorder) flush(batch []models.CommandLog) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	if err := r.repo.CreateBatch(ctx, batch); err != nil {
		r.logger.Error("audit_batch_insert_failed", "count", len(batch), "error", err)
		return
	}
	r.written.Add(int64(len(batch)))
	r.logger.Debug("audit_batch_insert_success",
		"count", len(batch),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
