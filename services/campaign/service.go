package campaign

import (
	"context"
	"time"

	"incentive-controlplane/pkg/db/option"
	"incentive-controlplane/pkg/logger"
	"incentive-controlplane/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	catalog *Catalog

	campaign repository.Repository[Campaign]
}

type ServiceParams struct {
	fx.In

	DB      *gorm.DB
	Catalog *Catalog
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		catalog:  p.Catalog,
		campaign: repository.ProvideStore[Campaign](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Campaign, error) {
	def, err := s.catalog.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return def.Campaign, nil
}

// CloseEnded moves every ACTIVE campaign whose end_at passed before now to ENDED.
func (s *Service) CloseEnded(ctx context.Context, now time.Time) (int, error) {
	log := logger.FromContext(ctx)

	expired, err := s.campaign.Find(ctx, &Campaign{Status: StatusActive},
		option.ApplyOperator(option.Condition{
			Field:    "end_at",
			Operator: option.LT,
			Value:    now,
		}),
	)
	if err != nil {
		log.Error("failed to query expired campaigns", zap.Error(err))
		return 0, err
	}

	closed := 0
	for _, c := range expired {
		updates := map[string]any{
			"status":     StatusEnded,
			"updated_at": now,
		}
		if err := s.campaign.Update(ctx, c.ID, &updates); err != nil {
			log.Error("failed to close campaign", zap.String("campaign_id", c.ID), zap.Error(err))
			return closed, err
		}
		s.catalog.Invalidate(c.ID)
		closed++
	}

	if closed > 0 {
		log.Info("closed ended campaigns", zap.Int("count", closed))
	}
	return closed, nil
}
