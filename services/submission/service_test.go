package submission_test

import (
	"context"
	"errors"
	"testing"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/submission"
	"incentive-controlplane/services/testutil/fixture"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func setup(t *testing.T) *fixture.Fixture {
	f := fixture.New(t)
	f.Store(t)
	f.Seller(t, "s1", "")
	f.SaveCampaign(t, fixture.Campaign("cmp", fixture.Card(1, fixture.Requirement("req-1", 1, 2))))
	return f
}

func TestSubmitCreatesPending(t *testing.T) {
	f := setup(t)

	sub, err := f.Submissions.Submit(context.Background(), submission.SubmitParams{
		CampaignID: "cmp", SellerID: "s1", RequirementID: "req-1", OrderNumber: "  100 ",
	})
	require.NoError(t, err)
	require.Equal(t, submission.StatusPending, sub.Status)
	require.Equal(t, "100", sub.OrderNumber)

	_, err = f.Submissions.Submit(context.Background(), submission.SubmitParams{
		CampaignID: "cmp", SellerID: "s1", RequirementID: "req-1", OrderNumber: "100",
	})
	require.True(t, errutil.IsStatus(err, errutil.StatusConflict))
}

func TestSubmitValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.Submissions.Submit(ctx, submission.SubmitParams{CampaignID: "cmp", SellerID: "s1", RequirementID: "req-1", OrderNumber: " "})
	require.True(t, errutil.IsStatus(err, errutil.StatusBadRequest))

	_, err = f.Submissions.Submit(ctx, submission.SubmitParams{CampaignID: "cmp", SellerID: "s1", RequirementID: "other", OrderNumber: "1"})
	require.True(t, errutil.IsStatus(err, errutil.StatusBadRequest))

	_, err = f.Submissions.Submit(ctx, submission.SubmitParams{CampaignID: "nope", SellerID: "s1", RequirementID: "req-1", OrderNumber: "1"})
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))

	_, err = f.Submissions.Submit(ctx, submission.SubmitParams{CampaignID: "cmp", SellerID: "ghost", RequirementID: "req-1", OrderNumber: "1"})
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))
}

func TestSubmitRejectsUntargetedAndClosed(t *testing.T) {
	f := fixture.New(t)
	f.Store(t)
	f.Seller(t, "s1", "")

	targeted := fixture.Campaign("targeted", fixture.Card(1, fixture.Requirement("t-1", 1, 1)))
	targeted.AllOrganizations = false
	targeted.TargetOrganizations = datatypes.NewJSONSlice([]string{"org-elsewhere"})
	f.SaveCampaign(t, targeted)

	_, err := f.Submissions.Submit(context.Background(), submission.SubmitParams{
		CampaignID: "targeted", SellerID: "s1", RequirementID: "t-1", OrderNumber: "1",
	})
	require.True(t, errutil.IsStatus(err, errutil.StatusForbidden))

	parentTargeted := fixture.Campaign("by-parent", fixture.Card(1, fixture.Requirement("p-1", 1, 1)))
	parentTargeted.AllOrganizations = false
	parentTargeted.TargetOrganizations = datatypes.NewJSONSlice([]string{"org-parent"})
	f.SaveCampaign(t, parentTargeted)

	_, err = f.Submissions.Submit(context.Background(), submission.SubmitParams{
		CampaignID: "by-parent", SellerID: "s1", RequirementID: "p-1", OrderNumber: "1",
	})
	require.NoError(t, err)

	ended := fixture.Campaign("ended", fixture.Card(1, fixture.Requirement("e-1", 1, 1)))
	ended.Status = campaign.StatusEnded
	f.SaveCampaign(t, ended)

	_, err = f.Submissions.Submit(context.Background(), submission.SubmitParams{
		CampaignID: "ended", SellerID: "s1", RequirementID: "e-1", OrderNumber: "1",
	})
	require.True(t, errutil.IsStatus(err, errutil.StatusUnprocessableEntity))
}

func TestListPendingInCreationOrder(t *testing.T) {
	f := setup(t)
	a := f.Pending(t, "cmp", "s1", "req-1", "a")
	b := f.Pending(t, "cmp", "s1", "req-1", "b")
	c := f.Pending(t, "cmp", "s1", "req-1", "c")
	require.NoError(t, f.DB.Model(&submission.Submission{}).Where("id = ?", b.ID).Update("status", submission.StatusRejected).Error)

	pending, err := f.Submissions.ListPending(context.Background(), "cmp")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, a.ID, pending[0].ID)
	require.Equal(t, c.ID, pending[1].ID)
}

func TestTransition(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sub := f.Pending(t, "cmp", "s1", "req-1", "100")

	err := f.DB.Transaction(func(tx *gorm.DB) error {
		return f.Submissions.Transition(ctx, tx, sub, submission.StatusConflict, submission.Decision{Reason: "held by s9", Actor: "system"})
	})
	require.NoError(t, err)

	stored := f.Reload(t, sub.ID)
	require.Equal(t, submission.StatusConflict, stored.Status)
	require.Equal(t, "held by s9", *stored.Reason)
	require.NotNil(t, stored.DecidedAt)

	err = f.DB.Transaction(func(tx *gorm.DB) error {
		return f.Submissions.Transition(ctx, tx, sub, submission.StatusApproved, submission.Decision{Actor: "admin"})
	})
	require.NoError(t, err)

	stored = f.Reload(t, sub.ID)
	require.Equal(t, submission.StatusApproved, stored.Status)
	require.Nil(t, stored.Reason)
	require.Equal(t, "admin", *stored.DecidedBy)

	err = f.DB.Transaction(func(tx *gorm.DB) error {
		return f.Submissions.Transition(ctx, tx, sub, submission.StatusRejected, submission.Decision{Reason: "late"})
	})
	require.True(t, errors.Is(err, submission.ErrInvalidTransition))
}

func TestTransitionDetectsStaleRead(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sub := f.Pending(t, "cmp", "s1", "req-1", "100")
	stale := *sub

	require.NoError(t, f.DB.Transaction(func(tx *gorm.DB) error {
		return f.Submissions.Transition(ctx, tx, sub, submission.StatusRejected, submission.Decision{Reason: "not found"})
	}))

	err := f.DB.Transaction(func(tx *gorm.DB) error {
		return f.Submissions.Transition(ctx, tx, &stale, submission.StatusConflict, submission.Decision{})
	})
	require.True(t, errors.Is(err, submission.ErrInvalidTransition))
	require.Equal(t, submission.StatusRejected, f.Reload(t, sub.ID).Status)
}

func TestStatusTransitions(t *testing.T) {
	require.True(t, submission.StatusPending.CanTransition(submission.StatusApproved))
	require.True(t, submission.StatusPending.CanTransition(submission.StatusConflict))
	require.True(t, submission.StatusRejected.CanTransition(submission.StatusApproved))
	require.False(t, submission.StatusRejected.CanTransition(submission.StatusConflict))
	require.False(t, submission.StatusApproved.CanTransition(submission.StatusRejected))
	require.False(t, submission.StatusPending.CanTransition(submission.StatusPending))
	require.False(t, submission.Status("DRAFT").Valid())
}

func TestCountApprovedAndOtherSeller(t *testing.T) {
	f := setup(t)
	f.Seller(t, "s2", "")
	ctx := context.Background()

	approve := func(sub *submission.Submission, card int) {
		require.NoError(t, f.DB.Model(&submission.Submission{}).Where("id = ?", sub.ID).
			Updates(map[string]any{"status": submission.StatusApproved, "card_number": card}).Error)
	}

	a := f.Pending(t, "cmp", "s1", "req-1", "100")
	b := f.Pending(t, "cmp", "s1", "req-1", "101")
	f.Pending(t, "cmp", "s1", "req-1", "102")
	approve(a, 1)
	approve(b, 2)

	n, err := f.Submissions.CountApproved(ctx, nil, submission.ApprovedFilter{
		SellerID: "s1", CampaignID: "cmp", RequirementIDs: []string{"req-1"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = f.Submissions.CountApproved(ctx, nil, submission.ApprovedFilter{
		SellerID: "s1", CampaignID: "cmp", RequirementIDs: []string{"req-1"}, ExcludeID: a.ID, CardNumber: 2,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	other, err := f.Submissions.FindApprovedByOtherSeller(ctx, nil, "cmp", "100", "s2")
	require.NoError(t, err)
	require.NotNil(t, other)
	require.Equal(t, "s1", other.SellerID)

	self, err := f.Submissions.FindApprovedByOtherSeller(ctx, nil, "cmp", "100", "s1")
	require.NoError(t, err)
	require.Nil(t, self)
}
