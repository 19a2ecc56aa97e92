package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"incentive-controlplane/pkg/db/option"
	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/logger"
	"incentive-controlplane/pkg/repository"
	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/seller"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	catalog   *campaign.Catalog
	directory *seller.Directory
	now       func() time.Time

	submission repository.Repository[Submission]
}

type ServiceParams struct {
	fx.In

	DB        *gorm.DB
	Node      *snowflake.Node
	Catalog   *campaign.Catalog
	Directory *seller.Directory
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		catalog:    p.Catalog,
		directory:  p.Directory,
		now:        time.Now,
		submission: repository.ProvideStore[Submission](p.DB),
	}
}

type SubmitParams struct {
	CampaignID    string
	SellerID      string
	RequirementID string
	OrderNumber   string
}

// Submit records a seller's claim that an order satisfies a requirement. The claim starts PENDING.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (*Submission, error) {
	log := logger.FromContext(ctx).With(
		zap.String("campaign_id", p.CampaignID),
		zap.String("seller_id", p.SellerID),
	)

	orderNumber := strings.TrimSpace(p.OrderNumber)
	if orderNumber == "" {
		return nil, errutil.BadRequest("order_number is required", nil)
	}

	def, err := s.catalog.Load(ctx, p.CampaignID)
	if err != nil {
		return nil, err
	}

	if _, ok := def.Requirement(p.RequirementID); !ok {
		return nil, errutil.BadRequest("requirement does not belong to campaign", nil,
			errutil.WithDetails(errutil.Detail{Field: "requirement_id", Message: p.RequirementID}))
	}

	if !def.Campaign.IsOpen(s.now()) {
		return nil, errutil.UnprocessableEntity("campaign is not accepting submissions", nil)
	}

	sel, err := s.directory.Get(ctx, p.SellerID)
	if err != nil {
		return nil, err
	}

	identity := sel.Identity()
	if !def.Campaign.Targets(identity.OrganizationID, identity.ParentID) {
		return nil, errutil.Forbidden("seller organization is not targeted by campaign", nil)
	}

	exist, err := s.submission.FindOne(ctx, &Submission{
		OrderNumber: orderNumber,
		SellerID:    p.SellerID,
		CampaignID:  p.CampaignID,
	})
	if err != nil {
		log.Error("failed to check duplicate submission", zap.Error(err))
		return nil, err
	}
	if exist != nil {
		return nil, errutil.Conflict("order already submitted for this campaign", nil)
	}

	sub := &Submission{
		ID:            s.node.Generate().String(),
		OrderNumber:   orderNumber,
		SellerID:      p.SellerID,
		CampaignID:    p.CampaignID,
		RequirementID: p.RequirementID,
		Status:        StatusPending,
	}
	if err := s.submission.Create(ctx, sub); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("order already submitted for this campaign", err)
		}
		log.Error("failed to create submission", zap.Error(err))
		return nil, err
	}

	log.Info("submission received", zap.String("submission_id", sub.ID), zap.String("order_number", orderNumber))
	return sub, nil
}

// ListPending returns the campaign's PENDING submissions in creation order.
func (s *Service) ListPending(ctx context.Context, campaignID string) ([]*Submission, error) {
	return s.submission.Find(ctx, &Submission{CampaignID: campaignID, Status: StatusPending},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc", Allow: map[string]bool{"created_at": true}}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc", Allow: map[string]bool{"id": true}}),
	)
}

func (s *Service) Get(ctx context.Context, id string) (*Submission, error) {
	sub, err := s.submission.FindOne(ctx, &Submission{ID: id})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errutil.NotFound("submission not found", nil)
	}
	return sub, nil
}

// GetForUpdate reads the submission inside tx holding a row lock.
func (s *Service) GetForUpdate(ctx context.Context, tx *gorm.DB, id string) (*Submission, error) {
	sub, err := s.submission.WithTrx(tx).FindOne(ctx, &Submission{ID: id}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errutil.NotFound("submission not found", nil)
	}
	return sub, nil
}

// Transition moves sub to status to. The update is conditional on the status sub was read with,
// so a concurrent decision makes it fail with ErrInvalidTransition. On success sub reflects the new state.
func (s *Service) Transition(ctx context.Context, tx *gorm.DB, sub *Submission, to Status, d Decision) error {
	if !sub.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, to)
	}

	at := d.At
	if at.IsZero() {
		at = s.now()
	}

	var reason *string
	if to != StatusApproved && d.Reason != "" {
		reason = &d.Reason
	}
	var actor *string
	if d.Actor != "" {
		actor = &d.Actor
	}

	res := tx.WithContext(ctx).Model(&Submission{}).
		Where("id = ? AND status = ?", sub.ID, sub.Status).
		Updates(map[string]any{
			"status":     to,
			"reason":     reason,
			"decided_at": at,
			"decided_by": actor,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s is no longer %s", ErrInvalidTransition, sub.ID, sub.Status)
	}

	sub.Status = to
	sub.Reason = reason
	sub.DecidedAt = &at
	sub.DecidedBy = actor
	return nil
}

func (s *Service) SetCardNumber(ctx context.Context, tx *gorm.DB, id string, number int) error {
	updates := map[string]any{"card_number": number}
	return s.submission.WithTrx(tx).Update(ctx, id, &updates)
}

// ApprovedFilter narrows CountApproved. Zero values are ignored.
type ApprovedFilter struct {
	SellerID       string
	CampaignID     string
	RequirementIDs []string
	ExcludeID      string
	CardNumber     int
}

func (s *Service) CountApproved(ctx context.Context, tx *gorm.DB, f ApprovedFilter) (int64, error) {
	conds := []option.Condition{
		{Field: "requirement_id", Operator: option.IN, Value: f.RequirementIDs},
	}
	if f.ExcludeID != "" {
		conds = append(conds, option.Condition{Field: "id", Operator: option.NEQ, Value: f.ExcludeID})
	}
	if f.CardNumber > 0 {
		conds = append(conds, option.Condition{Field: "card_number", Operator: option.EQ, Value: f.CardNumber})
	}

	return s.submission.WithTrx(tx).Count(ctx,
		&Submission{SellerID: f.SellerID, CampaignID: f.CampaignID, Status: StatusApproved},
		option.ApplyOperator(conds...),
	)
}

// FindApprovedByOtherSeller returns an APPROVED submission of the same order in the campaign held
// by a seller other than sellerID, or nil.
func (s *Service) FindApprovedByOtherSeller(ctx context.Context, tx *gorm.DB, campaignID, orderNumber, sellerID string) (*Submission, error) {
	return s.submission.WithTrx(tx).FindOne(ctx,
		&Submission{CampaignID: campaignID, OrderNumber: orderNumber, Status: StatusApproved},
		option.ApplyOperator(option.Condition{Field: "seller_id", Operator: option.NEQ, Value: sellerID}),
		option.WithSortBy(option.QuerySortBy{SortBy: "decided_at", OrderBy: "asc", Allow: map[string]bool{"decided_at": true}}),
	)
}
