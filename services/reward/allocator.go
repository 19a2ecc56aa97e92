package reward

import (
	"context"
	"errors"
	"fmt"

	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/submission"

	"gorm.io/gorm"
)

var ErrInvalidQuantity = errors.New("requirement quantity must be positive")

type Allocation struct {
	CardNumber  int
	CountBefore int64
}

// Allocator spills approvals of one logical requirement across consecutive cards.
type Allocator struct {
	submissions *submission.Service
}

func NewAllocator(submissions *submission.Service) *Allocator {
	return &Allocator{submissions: submissions}
}

// Allocate counts the seller's other APPROVED submissions against every requirement sharing req's
// order-index and returns floor(count/quantity)+1. The result is not capped at the last defined card.
func (a *Allocator) Allocate(ctx context.Context, tx *gorm.DB, def *campaign.Definition, sub *submission.Submission, req *campaign.Requirement) (Allocation, error) {
	if req.Quantity <= 0 {
		return Allocation{}, fmt.Errorf("%w: requirement %s has quantity %d", ErrInvalidQuantity, req.ID, req.Quantity)
	}

	set := def.OrderIndexSet(req.OrderIndex)
	count, err := a.submissions.CountApproved(ctx, tx, submission.ApprovedFilter{
		SellerID:       sub.SellerID,
		CampaignID:     sub.CampaignID,
		RequirementIDs: set,
		ExcludeID:      sub.ID,
	})
	if err != nil {
		return Allocation{}, err
	}

	return Allocation{
		CardNumber:  int(count/int64(req.Quantity)) + 1,
		CountBefore: count,
	}, nil
}

// CardComplete reports whether every requirement of card number has reached its quantity with
// approvals attained at that card.
func (a *Allocator) CardComplete(ctx context.Context, tx *gorm.DB, def *campaign.Definition, sellerID string, number int) (bool, error) {
	card, ok := def.Card(number)
	if !ok || len(card.Requirements) == 0 {
		return false, nil
	}

	for _, req := range card.Requirements {
		count, err := a.submissions.CountApproved(ctx, tx, submission.ApprovedFilter{
			SellerID:       sellerID,
			CampaignID:     def.Campaign.ID,
			RequirementIDs: def.OrderIndexSet(req.OrderIndex),
			CardNumber:     number,
		})
		if err != nil {
			return false, err
		}
		if count < int64(req.Quantity) {
			return false, nil
		}
	}
	return true, nil
}
