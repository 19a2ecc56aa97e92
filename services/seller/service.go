package seller

import (
	"context"

	"incentive-controlplane/pkg/db/option"
	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/repository"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("seller.module",
	fx.Provide(NewDirectory),
)

// Directory is the read/credit surface over sellers used by reconciliation and rewards.
type Directory struct {
	db     *gorm.DB
	seller repository.Repository[Seller]
}

type DirectoryParams struct {
	fx.In

	DB *gorm.DB
}

func NewDirectory(p DirectoryParams) *Directory {
	return &Directory{
		db:     p.DB,
		seller: repository.ProvideStore[Seller](p.DB),
	}
}

// Get loads a seller with its organization and the organization's parent. Missing sellers are NotFound.
func (d *Directory) Get(ctx context.Context, id string) (*Seller, error) {
	s, err := d.seller.FindOne(ctx, &Seller{ID: id},
		option.WithPreload("Organization.Parent"),
	)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errutil.NotFound("seller not found", nil)
	}
	return s, nil
}

// GetMany returns the sellers found among ids keyed by id. Unknown ids are simply absent.
func (d *Directory) GetMany(ctx context.Context, ids []string) (map[string]*Seller, error) {
	out := make(map[string]*Seller, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	found, err := d.seller.Find(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "id", Operator: option.IN, Value: ids}),
		option.WithPreload("Organization.Parent"),
	)
	if err != nil {
		return nil, err
	}

	for _, s := range found {
		out[s.ID] = s
	}
	return out, nil
}

// LockForUpdate reads the seller row inside tx with a row lock held until commit.
func (d *Directory) LockForUpdate(ctx context.Context, tx *gorm.DB, id string) (*Seller, error) {
	s, err := d.seller.WithTrx(tx).FindOne(ctx, &Seller{ID: id}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errutil.NotFound("seller not found", nil)
	}
	return s, nil
}

// Credit increments the seller counters in SQL so concurrent credits never lose updates.
func (d *Directory) Credit(ctx context.Context, tx *gorm.DB, id string, coins, points int64) error {
	updates := map[string]any{
		"coin_balance":   gorm.Expr("coin_balance + ?", coins),
		"ranking_points": gorm.Expr("ranking_points + ?", points),
	}
	return d.seller.WithTrx(tx).Update(ctx, id, &updates)
}
