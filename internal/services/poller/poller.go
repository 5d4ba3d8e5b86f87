// Package poller runs the fetch-and-publish loop.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vshulcz/synapse-stats-exporter/internal/config"
	"github.com/vshulcz/synapse-stats-exporter/internal/domain"
	"github.com/vshulcz/synapse-stats-exporter/internal/ports"
	"github.com/vshulcz/synapse-stats-exporter/pkg/observer"
)

const authHint = "the admin token is not refreshed; restart the exporter or set PROM_SYNAPSE_ADMIN_TOKEN"

// TickOutcome describes one completed fetch cycle.
type TickOutcome struct {
	Seq      uint64
	Started  time.Time
	Duration time.Duration
	Sample   domain.Sample
	Err      error
}

// OK reports whether the tick published a sample.
func (o TickOutcome) OK() bool {
	return o.Err == nil
}

// Service fetches a Sample on a fixed schedule and hands complete samples to the sink.
// Fetches never overlap and a failed fetch leaves the sink untouched.
type Service struct {
	cfg    config.PollConfig
	src    ports.DataSource
	sink   ports.MetricsSink
	logger *zap.Logger
	events observer.Publisher[TickOutcome]

	now func() time.Time
	seq uint64
}

// New wires a data source to a sink. events may be nil.
func New(cfg config.PollConfig, src ports.DataSource, sink ports.MetricsSink, logger *zap.Logger, events observer.Publisher[TickOutcome]) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:    cfg,
		src:    src,
		sink:   sink,
		logger: logger,
		events: events,
		now:    time.Now,
	}
}

// Run fetches once immediately and then on every interval boundary until ctx
// is done. It always returns nil after cancellation.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("poll interval must be > 0, got %v", s.cfg.Interval)
	}

	s.logger.Info("poll loop started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("fetch_timeout", s.cfg.FetchTimeout),
	)
	defer func() {
		s.logger.Info("poll loop stopped", zap.Uint64("ticks", s.seq))
	}()

	start := s.now()
	scheduled := start
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		s.Tick(ctx)

		now := s.now()
		next := nextTick(start, now, s.cfg.Interval)
		if skipped := int64(next.Sub(scheduled)/s.cfg.Interval) - 1; skipped > 0 {
			s.logger.Warn("fetch overran the interval, skipping ticks", zap.Int64("skipped", skipped))
		}
		scheduled = next
		timer.Reset(next.Sub(now))
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// Tick runs one fetch cycle and reports its outcome.
func (s *Service) Tick(ctx context.Context) TickOutcome {
	s.seq++
	out := TickOutcome{Seq: s.seq, Started: s.now()}

	fetchCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.cfg.FetchTimeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
	}
	sample, err := s.fetch(fetchCtx)
	cancel()
	if err == nil {
		err = sample.Validate()
	}
	out.Duration = s.now().Sub(out.Started)

	switch {
	case err == nil:
		s.sink.Publish(sample)
		out.Sample = sample
		s.logger.Debug("sample published",
			zap.Uint64("seq", out.Seq),
			zap.Int64("rooms", sample.Rooms),
			zap.Int64("users", sample.Users),
			zap.Duration("duration", out.Duration),
		)
	case ctx.Err() != nil:
		out.Err = ctx.Err()
		s.logger.Debug("fetch interrupted by shutdown", zap.Uint64("seq", out.Seq))
	default:
		out.Err = err
		s.logFailure(out)
	}

	if s.events != nil {
		s.events.Publish(ctx, out)
	}
	return out
}

func (s *Service) fetch(ctx context.Context) (sample domain.Sample, err error) {
	defer func() {
		if r := recover(); r != nil {
			sample = domain.Sample{}
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return s.src.Fetch(ctx)
}

func (s *Service) logFailure(out TickOutcome) {
	fields := []zap.Field{
		zap.Uint64("seq", out.Seq),
		zap.String("kind", kindName(out.Err)),
		zap.Duration("duration", out.Duration),
		zap.Error(out.Err),
	}
	var fe *domain.FetchError
	if errors.As(out.Err, &fe) {
		if fe.Endpoint != "" {
			fields = append(fields, zap.String("endpoint", fe.Endpoint))
		}
		if fe.Status != 0 {
			fields = append(fields, zap.Int("status", fe.Status))
		}
	}
	if errors.Is(out.Err, domain.ErrAuth) {
		fields = append(fields, zap.String("hint", authHint))
	}
	s.logger.Error("fetch failed, keeping previous values", fields...)
}

func kindName(err error) string {
	kind := domain.KindOf(err)
	if kind == nil {
		return "unknown"
	}
	return kind.Error()
}

// nextTick returns the first instant start+k*interval strictly after now.
func nextTick(start, now time.Time, interval time.Duration) time.Time {
	if now.Before(start) {
		return start
	}
	k := now.Sub(start)/interval + 1
	return start.Add(k * interval)
}
