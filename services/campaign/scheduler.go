package campaign

import (
	"context"
	"time"

	"incentive-controlplane/pkg/config"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Closer periodically ends campaigns whose end_at has passed.
type Closer struct {
	service  *Service
	schedule string
	cron     *cron.Cron
}

func NewCloser(cfg *config.Config, svc *Service) *Closer {
	return &Closer{
		service:  svc,
		schedule: cfg.Campaign.CloserSchedule,
		cron:     cron.New(cron.WithLocation(time.UTC)),
	}
}

func StartCloser(lc fx.Lifecycle, c *Closer) error {
	if c.schedule == "" {
		zap.L().Info("[Closer] campaign closer disabled")
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, c.runOnce); err != nil {
		zap.L().Error("[Closer] invalid schedule", zap.String("schedule", c.schedule), zap.Error(err))
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.cron.Start()
			zap.L().Info("[Closer] started", zap.String("schedule", c.schedule))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			select {
			case <-c.cron.Stop().Done():
			case <-ctx.Done():
			}
			zap.L().Warn("[Closer] stopped")
			return nil
		},
	})
	return nil
}

func (c *Closer) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	start := time.Now()
	n, err := c.service.CloseEnded(ctx, start.UTC())
	if err != nil {
		zap.L().Error("[Closer] failed to close campaigns", zap.Error(err))
		return
	}

	zap.L().Info("[Closer] finished",
		zap.Int("closed", n),
		zap.Duration("duration", time.Since(start)),
	)
}
