package reconciliation

import (
	"context"
	"errors"
	"strings"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/logger"
	"incentive-controlplane/services/notification"
	"incentive-controlplane/services/reward"
	"incentive-controlplane/services/submission"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reviewer applies manual decisions made by an operator.
type Reviewer struct {
	db            *gorm.DB
	submissions   *submission.Service
	trigger       *reward.Trigger
	notifications *notification.Service
}

type ReviewerParams struct {
	fx.In

	DB            *gorm.DB
	Submissions   *submission.Service
	Trigger       *reward.Trigger
	Notifications *notification.Service
}

func NewReviewer(p ReviewerParams) *Reviewer {
	return &Reviewer{
		db:            p.DB,
		submissions:   p.Submissions,
		trigger:       p.Trigger,
		notifications: p.Notifications,
	}
}

// Approve approves the submission and runs the reward trigger in the same transaction.
func (r *Reviewer) Approve(ctx context.Context, id, actor string) (*submission.Submission, error) {
	log := logger.FromContext(ctx).With(zap.String("submission_id", id), zap.String("actor", actor))

	var (
		decided *submission.Submission
		out     *reward.Outcome
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := r.submissions.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := r.submissions.Transition(ctx, tx, sub, submission.StatusApproved, submission.Decision{Actor: actor}); err != nil {
			return err
		}

		out, err = r.trigger.Trigger(ctx, tx, sub)
		if err != nil {
			return err
		}
		decided = sub
		return nil
	})
	if err != nil {
		log.Warn("manual approval failed", zap.Error(err))
		return nil, reviewError(err)
	}

	r.notifications.Dispatch(ctx, out.NotificationIDs)
	log.Info("submission approved",
		zap.Int("card_number", out.CardNumber),
		zap.Bool("rewarded", out.Rewarded),
	)
	return decided, nil
}

func (r *Reviewer) Reject(ctx context.Context, id, reason, actor string) (*submission.Submission, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errutil.BadRequest("a rejection reason is required", nil,
			errutil.WithDetails(errutil.Detail{Field: "reason", Message: "must not be blank"}),
		)
	}

	var decided *submission.Submission
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := r.submissions.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := r.submissions.Transition(ctx, tx, sub, submission.StatusRejected, submission.Decision{
			Reason: reason,
			Actor:  actor,
		}); err != nil {
			return err
		}
		decided = sub
		return nil
	})
	if err != nil {
		return nil, reviewError(err)
	}

	logger.FromContext(ctx).Info("submission rejected", zap.String("submission_id", id), zap.String("actor", actor))
	return decided, nil
}

func reviewError(err error) error {
	if errors.Is(err, submission.ErrInvalidTransition) {
		return errutil.Conflict("submission cannot move to the requested status", err)
	}
	return err
}
