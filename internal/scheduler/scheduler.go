package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stencilflow/stencilflow/internal/clock"
	invitedomain "github.com/stencilflow/stencilflow/internal/invite/domain"
	obsmetrics "github.com/stencilflow/stencilflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const jobExpireInvites = "expire_invites"

var ErrInvalidConfig = errors.New("scheduler: invalid config")

type inviteExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int64, error)
}

type Params struct {
	fx.In

	Log       *zap.Logger
	InviteSvc invitedomain.Service
	GenID     *snowflake.Node
	Clock     clock.Clock
	Metrics   *obsmetrics.Metrics `optional:"true"`
	Config    Config              `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	invites inviteExpirer
	metrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.InviteSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		invites: p.InviteSvc,
		metrics: p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name, batchSize)
	s.logJobStart(ctx, run)

	err := fn(ctx)
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		s.metrics.RecordSchedulerJob(ctx, name, "ok")
		return nil
	}

	// Deadline is a soft timeout; the next tick picks up the remainder.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.RecordSchedulerJob(ctx, name, "timeout")
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.String("run_id", run.runID),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	s.metrics.RecordSchedulerJob(ctx, name, "error")
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, jobExpireInvites, s.cfg.BatchSize, s.cfg.JobTimeout, s.ExpireInvitesJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ExpireInvitesJob drains lapsed pending invites batch by batch until a short batch or MaxBatches.
func (s *Scheduler) ExpireInvitesJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	for i := 0; i < s.cfg.MaxBatches; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		expired, err := s.invites.ExpireStale(ctx, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		run.AddProcessed(expired)
		if expired < int64(s.cfg.BatchSize) {
			return nil
		}
	}
	return nil
}
