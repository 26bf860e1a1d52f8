package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrQueueFull         = errors.New("notification queue is full")
	ErrDispatcherStopped = errors.New("notification dispatcher is stopped")
)

var tracer = otel.Tracer("github.com/hackgods/clinic-queue/internal/notify")

// Sender delivers one message. The messaging session manager implements it.
type Sender interface {
	Send(ctx context.Context, recipient, message string) error
}

type Config struct {
	QueueSize   int
	Spacing     time.Duration
	SendTimeout time.Duration
}

type Stats struct {
	Enqueued  int64 `json:"enqueued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}

// Dispatcher drains cascades on a single background worker. Jobs of one
// cascade go out in order with at least Spacing between consecutive sends.
// A failed send is logged and never retried.
type Dispatcher struct {
	sender  Sender
	cfg     Config
	logger  zerolog.Logger
	queue   chan Cascade
	mu      sync.RWMutex
	stopped bool

	enqueued  atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func NewDispatcher(sender Sender, cfg Config, logger zerolog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Spacing < 0 {
		cfg.Spacing = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 45 * time.Second
	}
	return &Dispatcher{
		sender: sender,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Cascade, cfg.QueueSize),
	}
}

// Enqueue hands a cascade to the worker without blocking the caller.
func (d *Dispatcher) Enqueue(c Cascade) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.dropped.Add(int64(len(c.Jobs)))
		return ErrDispatcherStopped
	}

	select {
	case d.queue <- c:
		d.enqueued.Add(int64(len(c.Jobs)))
		return nil
	default:
		d.dropped.Add(int64(len(c.Jobs)))
		return ErrQueueFull
	}
}

// Run processes cascades until ctx is cancelled or the dispatcher is closed
// and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-d.queue:
			if !ok {
				return
			}
			d.process(ctx, c)
		}
	}
}

// Close refuses further cascades. Run drains what is already queued.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	close(d.queue)
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:  d.enqueued.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Pending:   len(d.queue),
	}
}

func (d *Dispatcher) process(ctx context.Context, c Cascade) {
	ctx, span := tracer.Start(ctx, "notify.cascade", trace.WithAttributes(
		attribute.String("cascade.id", c.ID.String()),
		attribute.String("cascade.reason", c.Reason),
		attribute.Int("cascade.jobs", len(c.Jobs)),
	))
	defer span.End()

	for i, job := range c.Jobs {
		if i > 0 && d.cfg.Spacing > 0 {
			select {
			case <-ctx.Done():
				d.dropped.Add(int64(len(c.Jobs) - i))
				return
			case <-time.After(d.cfg.Spacing):
			}
		}
		d.deliver(ctx, c, job)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, c Cascade, job Job) {
	ctx, span := tracer.Start(ctx, "notify.job", trace.WithAttributes(
		attribute.String("job.kind", string(job.Kind)),
		attribute.Int("job.token", job.Token),
	))
	defer span.End()

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	err := d.sender.Send(sendCtx, job.Recipient, job.Message)
	if err != nil {
		d.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		d.logger.Warn().Err(err).
			Str("cascade_id", c.ID.String()).
			Str("job_id", job.ID.String()).
			Str("kind", string(job.Kind)).
			Str("appointment_id", job.AppointmentID.String()).
			Int("token", job.Token).
			Msg("notification dropped")
		return
	}

	d.delivered.Add(1)
	d.logger.Info().
		Str("cascade_id", c.ID.String()).
		Str("job_id", job.ID.String()).
		Str("kind", string(job.Kind)).
		Int("token", job.Token).
		Dur("latency", time.Since(start)).
		Dur("queued_for", start.Sub(job.EnqueuedAt)).
		Msg("notification delivered")
}
