// Package pipeline fans feed alerts out to independent enrichment tasks.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"whale-alerts/internal/feed"
	"whale-alerts/internal/metrics"
)

// Processor handles one alert. It must not rely on the caller for error
// handling.
type Processor interface {
	ProcessAlert(ctx context.Context, alert feed.AlertRecord)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, alert feed.AlertRecord)

// ProcessAlert calls f.
func (f ProcessorFunc) ProcessAlert(ctx context.Context, alert feed.AlertRecord) { f(ctx, alert) }

// Options tune the task group.
type Options struct {
	// MaxInFlight bounds concurrent tasks; zero means unbounded.
	MaxInFlight  int
	DrainTimeout time.Duration
}

// Stats is a snapshot of task counters.
type Stats struct {
	Dispatched uint64
	Completed  uint64
	Failed     uint64
	Dropped    uint64
	InFlight   int64
}

// Pipeline dispatches alerts without waiting for their tasks.
type Pipeline struct {
	opts      Options
	processor Processor
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	dispatched atomic.Uint64
	completed  atomic.Uint64
	failed     atomic.Uint64
	dropped    atomic.Uint64
	inFlight   atomic.Int64
}

// New constructs the pipeline.
func New(opts Options, processor Processor, logger zerolog.Logger, m *metrics.Metrics) *Pipeline {
	if opts.MaxInFlight < 0 {
		opts.MaxInFlight = 0
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	if m == nil {
		m = metrics.New()
	}
	return &Pipeline{
		opts:      opts,
		processor: processor,
		metrics:   m,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Dispatched: p.dispatched.Load(),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
		InFlight:   p.inFlight.Load(),
	}
}

// Run dispatches every alert from alerts until the channel closes or ctx is
// done, then drains running tasks for at most DrainTimeout.
func (p *Pipeline) Run(ctx context.Context, alerts <-chan feed.AlertRecord) error {
	taskCtx, cancelTasks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelTasks()

	group := newTaskGroup(p.opts.MaxInFlight)
	p.logger.Info().Int("max_in_flight", p.opts.MaxInFlight).Msg("waiting for whale alerts")

	err := p.dispatch(ctx, taskCtx, group, alerts)

	p.drain(group, cancelTasks)
	return err
}

func (p *Pipeline) dispatch(ctx, taskCtx context.Context, group taskGroup, alerts <-chan feed.AlertRecord) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case alert, ok := <-alerts:
			if !ok {
				return nil
			}
			p.submit(taskCtx, group, alert)
		}
	}
}

func (p *Pipeline) submit(taskCtx context.Context, group taskGroup, alert feed.AlertRecord) {
	id := uuid.New()
	p.dispatched.Add(1)
	p.metrics.Dispatched.Inc()
	p.logger.Debug().Str("alert_id", id.String()).Str("symbol", alert.Symbol).Msg("dispatching alert")

	group.Submit(func() {
		p.runTask(feed.WithAlertID(taskCtx, id), id, alert)
	})
}

func (p *Pipeline) runTask(ctx context.Context, id uuid.UUID, alert feed.AlertRecord) {
	logger := p.logger.With().Str("alert_id", id.String()).Str("symbol", alert.Symbol).Logger()

	if ctx.Err() != nil {
		p.dropped.Add(1)
		p.metrics.TaskFailures.Inc()
		logger.Warn().Msg("dropping queued alert after shutdown")
		return
	}

	p.inFlight.Add(1)
	p.metrics.InFlight.Inc()
	defer func() {
		p.inFlight.Add(-1)
		p.metrics.InFlight.Dec()
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.metrics.TaskFailures.Inc()
			logger.Error().Str("panic", fmt.Sprint(r)).Msg("alert task crashed")
			return
		}
		p.completed.Add(1)
	}()

	p.processor.ProcessAlert(ctx, alert)
}

func (p *Pipeline) drain(group taskGroup, cancelTasks context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		group.StopWait()
		close(done)
	}()

	timer := time.NewTimer(p.opts.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		p.logger.Info().Uint64("completed", p.completed.Load()).Msg("all alert tasks finished")
		return
	case <-timer.C:
		p.logger.Warn().Int64("in_flight", p.inFlight.Load()).Dur("timeout", p.opts.DrainTimeout).Msg("drain timeout, cancelling alert tasks")
		cancelTasks()
	}
	<-done
}
