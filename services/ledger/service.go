package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"incentive-controlplane/pkg/db/option"
	"incentive-controlplane/pkg/db/pagination"
	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/logger"
	"incentive-controlplane/pkg/repository"
	"incentive-controlplane/pkg/sequence"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator
	now  func() time.Time

	ledger repository.Repository[Entry]
	heads  repository.Repository[Head]
}

type ServiceParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
	Seq  sequence.Generator
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		seq:    p.Seq,
		now:    time.Now,
		ledger: repository.ProvideStore[Entry](p.DB),
		heads:  repository.ProvideStore[Head](p.DB),
	}
}

type AppendParams struct {
	CampaignID      string
	BeneficiaryID   string
	SellerID        string
	CompletedCardID string
	Type            EntryType
	Amount          decimal.Decimal
	Description     string
	Metadata        map[string]any
}

func newestFirst() []option.QueryOption {
	return []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "desc", Allow: map[string]bool{"id": true}}),
	}
}

func oldestFirst() []option.QueryOption {
	return []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc", Allow: map[string]bool{"created_at": true}}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc", Allow: map[string]bool{"id": true}}),
	}
}

// lockHead creates the beneficiary's head row when missing and locks it until tx ends,
// so appends to one chain are serialized even when they come from different sellers.
func (s *Service) lockHead(ctx context.Context, tx *gorm.DB, beneficiaryID string) error {
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Head{ID: beneficiaryID}).Error
	if err != nil {
		return err
	}

	head, err := s.heads.WithTrx(tx).FindOne(ctx, &Head{ID: beneficiaryID}, option.WithLockingUpdate())
	if err != nil {
		return err
	}
	if head == nil {
		return fmt.Errorf("ledger head %s vanished", beneficiaryID)
	}
	return nil
}

func (s *Service) getLastEntry(ctx context.Context, tx *gorm.DB, beneficiaryID string) (*Entry, error) {
	opts := append(newestFirst(), option.WithLockingUpdate())
	return s.ledger.WithTrx(tx).FindOne(ctx, &Entry{BeneficiaryID: beneficiaryID}, opts...)
}

// Append adds a PENDING payout to the beneficiary's chain inside tx.
func (s *Service) Append(ctx context.Context, tx *gorm.DB, p AppendParams) (*Entry, error) {
	log := logger.FromContext(ctx).With(
		zap.String("beneficiary_id", p.BeneficiaryID),
		zap.String("completed_card_id", p.CompletedCardID),
	)

	if p.Amount.IsNegative() {
		return nil, errutil.BadRequest("payout amount must not be negative", nil)
	}

	if err := s.lockHead(ctx, tx, p.BeneficiaryID); err != nil {
		log.Error("failed to lock ledger head", zap.Error(err))
		return nil, err
	}

	lastEntry, err := s.getLastEntry(ctx, tx, p.BeneficiaryID)
	if err != nil {
		log.Error("failed to query last ledger entry", zap.Error(err))
		return nil, err
	}

	previousHash := GenesisHash
	createdAt := s.now().UTC().Truncate(time.Millisecond)
	if lastEntry != nil {
		previousHash = lastEntry.Hash
		// the chain is ordered by created_at, so a new entry never sorts before its predecessor
		if !createdAt.After(lastEntry.CreatedAt) {
			createdAt = lastEntry.CreatedAt.Add(time.Millisecond)
		}
	}

	code, err := s.seq.NextPayoutCode(ctx, p.CampaignID)
	if err != nil {
		log.Error("failed to generate payout code", zap.Error(err))
		return nil, err
	}

	var meta datatypes.JSON
	if len(p.Metadata) > 0 {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, err
		}
		meta = datatypes.JSON(b)
	}

	entry := &Entry{
		ID:              s.node.Generate().String(),
		Code:            code,
		CampaignID:      p.CampaignID,
		BeneficiaryID:   p.BeneficiaryID,
		SellerID:        p.SellerID,
		CompletedCardID: p.CompletedCardID,
		Type:            p.Type,
		Amount:          p.Amount.Round(2),
		Status:          EntryStatusPending,
		Description:     p.Description,
		PreviousHash:    previousHash,
		Metadata:        meta,
		CreatedAt:       createdAt,
	}
	entry.Hash = entry.GenerateHash()

	if err := s.ledger.WithTrx(tx).Create(ctx, entry); err != nil {
		log.Error("failed to create ledger entry", zap.Error(err))
		return nil, err
	}

	updates := map[string]any{"last_entry_id": entry.ID}
	if err := s.heads.WithTrx(tx).Update(ctx, p.BeneficiaryID, &updates); err != nil {
		log.Error("failed to advance ledger head", zap.Error(err))
		return nil, err
	}

	return entry, nil
}

// List pages through a beneficiary's entries oldest first.
func (s *Service) List(ctx context.Context, beneficiaryID string, page pagination.Pagination) ([]*Entry, pagination.PageInfo, error) {
	page = page.Normalize()

	opts := oldestFirst()
	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, pagination.PageInfo{}, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.WithCursorAfter(cursor.CreatedAt, cursor.ID))
	}
	opts = append(opts, option.WithLimit(page.Limit+1))

	entries, err := s.ledger.Find(ctx, &Entry{BeneficiaryID: beneficiaryID}, opts...)
	if err != nil {
		logger.FromContext(ctx).Error("failed to list ledger entries", zap.String("beneficiary_id", beneficiaryID), zap.Error(err))
		return nil, pagination.PageInfo{}, err
	}

	return pagination.Page(entries, page.Limit, func(e *Entry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
}

type VerifyResult struct {
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt string `json:"broken_at,omitempty"`
}

// VerifyChain recomputes every hash of the beneficiary's chain and checks the links between them.
func (s *Service) VerifyChain(ctx context.Context, beneficiaryID string) (*VerifyResult, error) {
	entries, err := s.ledger.Find(ctx, &Entry{BeneficiaryID: beneficiaryID}, oldestFirst()...)
	if err != nil {
		logger.FromContext(ctx).Error("failed to query ledger entries", zap.String("beneficiary_id", beneficiaryID), zap.Error(err))
		return nil, err
	}

	lastHash := GenesisHash
	for _, entry := range entries {
		if entry.PreviousHash != lastHash || entry.Hash != entry.GenerateHash() {
			logger.FromContext(ctx).Warn("ledger chain broken",
				zap.String("beneficiary_id", beneficiaryID),
				zap.String("entry_id", entry.ID),
			)
			return &VerifyResult{Valid: false, Entries: len(entries), BrokenAt: entry.ID}, nil
		}
		lastHash = entry.Hash
	}

	return &VerifyResult{Valid: true, Entries: len(entries)}, nil
}

// MarkPaid records that the payment collaborator settled an entry. Paying twice is a conflict.
func (s *Service) MarkPaid(ctx context.Context, entryID string) (*Entry, error) {
	var out *Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.ledger.WithTrx(tx).FindOne(ctx, &Entry{ID: entryID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if entry == nil {
			return errutil.NotFound("ledger entry not found", nil)
		}
		if entry.Status == EntryStatusPaid {
			return errutil.Conflict("ledger entry already paid", nil)
		}

		paidAt := s.now().UTC()
		updates := map[string]any{
			"status":  EntryStatusPaid,
			"paid_at": paidAt,
		}
		if err := s.ledger.WithTrx(tx).Update(ctx, entry.ID, &updates); err != nil {
			return err
		}

		entry.Status = EntryStatusPaid
		entry.PaidAt = &paidAt
		out = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("ledger entry paid", zap.String("entry_id", entryID))
	return out, nil
}
