package notification

import (
	"context"
	"time"

	"incentive-controlplane/pkg/config"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Relay runs the outbox sweep on the control plane, next to the enqueuer.
var Relay = fx.Module("notification.relay",
	fx.Provide(NewRelayer),
	fx.Invoke(StartRelayer),
)

// Relayer periodically re-enqueues notifications whose first dispatch never reached the queue.
type Relayer struct {
	service  *Service
	schedule string
	after    time.Duration
	cron     *cron.Cron
}

func NewRelayer(cfg *config.Config, svc *Service) *Relayer {
	after := cfg.Notification.RelayAfter
	if after <= 0 {
		after = 5 * time.Minute
	}
	return &Relayer{
		service:  svc,
		schedule: cfg.Notification.RelaySchedule,
		after:    after,
		cron:     cron.New(cron.WithLocation(time.UTC)),
	}
}

func StartRelayer(lc fx.Lifecycle, r *Relayer) error {
	if r.schedule == "" {
		zap.L().Info("[Relay] notification relay disabled")
		return nil
	}

	if _, err := r.cron.AddFunc(r.schedule, r.runOnce); err != nil {
		zap.L().Error("[Relay] invalid schedule", zap.String("schedule", r.schedule), zap.Error(err))
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			r.cron.Start()
			zap.L().Info("[Relay] started", zap.String("schedule", r.schedule), zap.Duration("after", r.after))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			select {
			case <-r.cron.Stop().Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}

func (r *Relayer) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := r.service.Relay(ctx, r.after)
	if err != nil {
		zap.L().Error("[Relay] sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("[Relay] re-enqueued notifications", zap.Int("count", n))
	}
}
