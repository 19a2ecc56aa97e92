package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const GenesisHash = "GENESIS"

type EntryType string

const (
	EntryTypeSeller  EntryType = "SELLER"
	EntryTypeManager EntryType = "MANAGER"
)

type EntryStatus string

const (
	EntryStatusPending EntryStatus = "PENDING"
	EntryStatusPaid    EntryStatus = "PAID"
)

// Entry is one payout. Entries of a beneficiary form a hash chain ordered by (created_at, id).
type Entry struct {
	ID              string          `gorm:"column:id;primaryKey" json:"id"`
	Code            string          `gorm:"column:code;type:varchar(32);uniqueIndex" json:"code"`
	CampaignID      string          `gorm:"column:campaign_id;not null;index" json:"campaign_id"`
	BeneficiaryID   string          `gorm:"column:beneficiary_id;not null;index:idx_ledger_beneficiary_created" json:"beneficiary_id"`
	SellerID        string          `gorm:"column:seller_id;not null" json:"seller_id"`
	CompletedCardID string          `gorm:"column:completed_card_id;not null;uniqueIndex:uq_ledger_card_type" json:"completed_card_id"`
	Type            EntryType       `gorm:"column:type;type:varchar(20);not null;uniqueIndex:uq_ledger_card_type" json:"type"`
	Amount          decimal.Decimal `gorm:"column:amount;type:decimal(18,2);not null" json:"amount"`
	Status          EntryStatus     `gorm:"column:status;type:varchar(20);not null;default:'PENDING'" json:"status"`
	Description     string          `gorm:"column:description;type:text" json:"description"`
	PreviousHash    string          `gorm:"column:previous_hash;not null" json:"previous_hash"`
	Hash            string          `gorm:"column:hash;not null" json:"hash"`
	Metadata        datatypes.JSON  `gorm:"column:metadata" json:"metadata,omitempty"`
	PaidAt          *time.Time      `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt       time.Time       `gorm:"column:created_at;not null;index:idx_ledger_beneficiary_created" json:"created_at"`
}

func (Entry) TableName() string {
	return "ledger_entries"
}

// HashFields are the immutable parts of an entry. Payment status is not part of the chain.
func (e *Entry) HashFields() map[string]string {
	return map[string]string{
		"id":                e.ID,
		"code":              e.Code,
		"campaign_id":       e.CampaignID,
		"beneficiary_id":    e.BeneficiaryID,
		"seller_id":         e.SellerID,
		"completed_card_id": e.CompletedCardID,
		"type":              string(e.Type),
		"amount":            e.Amount.StringFixed(2),
		"description":       e.Description,
		"created_at":        e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":     e.PreviousHash,
	}
}

func (e *Entry) GenerateHash() string {
	fields := e.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// Head is the per-beneficiary row appends lock before reading the chain tip. ID is the beneficiary id.
type Head struct {
	ID          string    `gorm:"column:id;primaryKey" json:"beneficiary_id"`
	LastEntryID string    `gorm:"column:last_entry_id" json:"last_entry_id"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Head) TableName() string {
	return "ledger_heads"
}

func Models() []any {
	return []any{&Entry{}, &Head{}}
}
