package reconciliation

import (
	"context"

	"incentive-controlplane/services/submission"

	"gorm.io/gorm"
)

// ConflictDetector finds orders already validated for a different seller of the same campaign.
type ConflictDetector struct {
	submissions *submission.Service
	// held tracks approvals decided earlier in the current run, order number to seller id.
	held map[string]string
}

func NewConflictDetector(submissions *submission.Service) *ConflictDetector {
	return &ConflictDetector{submissions: submissions, held: make(map[string]string)}
}

func (d *ConflictDetector) Detect(ctx context.Context, tx *gorm.DB, orderNumber, campaignID, sellerID string) (string, bool, error) {
	if other, ok := d.held[orderNumber]; ok && other != sellerID {
		return other, true, nil
	}

	found, err := d.submissions.FindApprovedByOtherSeller(ctx, tx, campaignID, orderNumber, sellerID)
	if err != nil {
		return "", false, err
	}
	if found == nil {
		return "", false, nil
	}
	return found.SellerID, true, nil
}

// Hold records an approval made in this run so later submissions of the same order see it.
func (d *ConflictDetector) Hold(orderNumber, sellerID string) {
	if _, ok := d.held[orderNumber]; !ok {
		d.held[orderNumber] = sellerID
	}
}
