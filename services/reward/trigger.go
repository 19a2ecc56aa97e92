package reward

import (
	"context"
	"errors"
	"fmt"

	"incentive-controlplane/pkg/logger"
	"incentive-controlplane/pkg/repository"
	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/ledger"
	"incentive-controlplane/services/notification"
	"incentive-controlplane/services/seller"
	"incentive-controlplane/services/submission"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("incentive-controlplane/reward")

var ErrNotApproved = errors.New("submission is not approved")

var Module = fx.Module("reward.module",
	fx.Provide(NewAllocator, NewTrigger),
)

// Trigger turns an approved submission into card progress and, once per completed card, a payout.
type Trigger struct {
	node          *snowflake.Node
	catalog       *campaign.Catalog
	directory     *seller.Directory
	submissions   *submission.Service
	allocator     *Allocator
	ledger        *ledger.Service
	notifications *notification.Service

	completed repository.Repository[CompletedCard]
}

type TriggerParams struct {
	fx.In

	DB            *gorm.DB
	Node          *snowflake.Node
	Catalog       *campaign.Catalog
	Directory     *seller.Directory
	Submissions   *submission.Service
	Allocator     *Allocator
	Ledger        *ledger.Service
	Notifications *notification.Service
}

func NewTrigger(p TriggerParams) *Trigger {
	return &Trigger{
		node:          p.Node,
		catalog:       p.Catalog,
		directory:     p.Directory,
		submissions:   p.Submissions,
		allocator:     p.Allocator,
		ledger:        p.Ledger,
		notifications: p.Notifications,
		completed:     repository.ProvideStore[CompletedCard](p.DB),
	}
}

// Trigger must run inside the transaction that approved sub. Calling it again for the same card is a no-op.
func (t *Trigger) Trigger(ctx context.Context, tx *gorm.DB, sub *submission.Submission) (_ *Outcome, err error) {
	ctx, span := tracer.Start(ctx, "reward.Trigger")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("submission.id", sub.ID),
		attribute.String("seller.id", sub.SellerID),
		attribute.String("campaign.id", sub.CampaignID),
	)

	log := logger.FromContext(ctx).With(
		zap.String("submission_id", sub.ID),
		zap.String("seller_id", sub.SellerID),
		zap.String("campaign_id", sub.CampaignID),
	)

	if sub.Status != submission.StatusApproved {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotApproved, sub.ID, sub.Status)
	}

	def, err := t.catalog.LoadTx(ctx, tx, sub.CampaignID)
	if err != nil {
		return nil, err
	}

	req, ok := def.Requirement(sub.RequirementID)
	if !ok {
		return nil, fmt.Errorf("requirement %s not found in campaign %s", sub.RequirementID, sub.CampaignID)
	}

	// Serializes allocation and crediting per seller.
	sel, err := t.directory.LockForUpdate(ctx, tx, sub.SellerID)
	if err != nil {
		log.Error("failed to lock seller", zap.Error(err))
		return nil, err
	}

	out := &Outcome{SubmissionID: sub.ID}
	if sub.CardNumber != nil {
		out.CardNumber = *sub.CardNumber
	} else {
		alloc, err := t.allocator.Allocate(ctx, tx, def, sub, req)
		if err != nil {
			return nil, err
		}
		if err := t.submissions.SetCardNumber(ctx, tx, sub.ID, alloc.CardNumber); err != nil {
			log.Error("failed to store card number", zap.Error(err))
			return nil, err
		}
		number := alloc.CardNumber
		sub.CardNumber = &number
		out.CardNumber = number
	}
	span.SetAttributes(attribute.Int("card.number", out.CardNumber))

	if _, ok := def.Card(out.CardNumber); !ok {
		out.Overflow = true
		log.Info("approval beyond last card", zap.Int("card_number", out.CardNumber))
		return out, nil
	}

	complete, err := t.allocator.CardComplete(ctx, tx, def, sub.SellerID, out.CardNumber)
	if err != nil {
		return nil, err
	}
	if !complete {
		return out, nil
	}
	out.Completed = true

	exist, err := t.completed.WithTrx(tx).FindOne(ctx, &CompletedCard{
		SellerID:   sub.SellerID,
		CampaignID: sub.CampaignID,
		CardNumber: out.CardNumber,
	})
	if err != nil {
		return nil, err
	}
	if exist != nil {
		out.CompletedCardID = exist.ID
		return out, nil
	}

	if err := t.disburse(ctx, tx, def.Campaign, sel, sub, out); err != nil {
		log.Error("failed to disburse card reward", zap.Int("card_number", out.CardNumber), zap.Error(err))
		return nil, err
	}

	log.Info("card completed",
		zap.Int("card_number", out.CardNumber),
		zap.String("completed_card_id", out.CompletedCardID),
	)
	return out, nil
}

func (t *Trigger) disburse(ctx context.Context, tx *gorm.DB, c *campaign.Campaign, sel *seller.Seller, sub *submission.Submission, out *Outcome) error {
	card := &CompletedCard{
		ID:           t.node.Generate().String(),
		SellerID:     sel.ID,
		CampaignID:   c.ID,
		CardNumber:   out.CardNumber,
		SubmissionID: sub.ID,
	}
	if err := t.completed.WithTrx(tx).Create(ctx, card); err != nil {
		return err
	}
	out.CompletedCardID = card.ID
	out.Rewarded = true

	if err := t.directory.Credit(ctx, tx, sel.ID, c.CurrencyPerCard, c.CurrencyPerCard); err != nil {
		return err
	}

	meta := map[string]any{
		"card_number":   out.CardNumber,
		"submission_id": sub.ID,
	}
	if _, err := t.ledger.Append(ctx, tx, ledger.AppendParams{
		CampaignID:      c.ID,
		BeneficiaryID:   sel.ID,
		SellerID:        sel.ID,
		CompletedCardID: card.ID,
		Type:            ledger.EntryTypeSeller,
		Amount:          c.CashPerCard,
		Description:     fmt.Sprintf("%s: card %d", c.Title, out.CardNumber),
		Metadata:        meta,
	}); err != nil {
		return err
	}

	link := cardLink(c, out.CardNumber)
	n, err := t.notifications.Record(ctx, tx, notification.RecordParams{
		RecipientID: sel.ID,
		Message:     fmt.Sprintf("You completed card %d of %s and earned %d coins.", out.CardNumber, c.Title, c.CurrencyPerCard),
		Link:        link,
		DedupeKey:   card.ID + ":" + string(ledger.EntryTypeSeller),
	})
	if err != nil {
		return err
	}
	out.NotificationIDs = append(out.NotificationIDs, n.ID)

	if sel.SupervisorID == nil || *sel.SupervisorID == "" {
		return nil
	}

	commission := c.CashPerCard.Mul(c.CommissionRate).Round(2)
	if _, err := t.ledger.Append(ctx, tx, ledger.AppendParams{
		CampaignID:      c.ID,
		BeneficiaryID:   *sel.SupervisorID,
		SellerID:        sel.ID,
		CompletedCardID: card.ID,
		Type:            ledger.EntryTypeManager,
		Amount:          commission,
		Description:     fmt.Sprintf("%s: commission on card %d of %s", c.Title, out.CardNumber, sel.Name),
		Metadata:        meta,
	}); err != nil {
		return err
	}

	n, err = t.notifications.Record(ctx, tx, notification.RecordParams{
		RecipientID: *sel.SupervisorID,
		Message:     fmt.Sprintf("%s completed card %d of %s. Your commission is %s.", sel.Name, out.CardNumber, c.Title, commission.StringFixed(2)),
		Link:        link,
		DedupeKey:   card.ID + ":" + string(ledger.EntryTypeManager),
	})
	if err != nil {
		return err
	}
	out.NotificationIDs = append(out.NotificationIDs, n.ID)
	return nil
}

func cardLink(c *campaign.Campaign, number int) string {
	return fmt.Sprintf("/campaigns/%s/%s/cards/%d", c.ID, slug.Make(c.Title), number)
}
