package campaign

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusEnded  Status = "ENDED"
)

type Operator string

const (
	OperatorEquals      Operator = "EQUALS"
	OperatorNotEquals   Operator = "NOT_EQUALS"
	OperatorContains    Operator = "CONTAINS"
	OperatorNotContains Operator = "NOT_CONTAINS"
	OperatorGreaterThan Operator = "GREATER_THAN"
	OperatorLessThan    Operator = "LESS_THAN"
)

// Logical fields every reconciliation mapping understands. Condition fields are free-form on top of these.
const (
	FieldOrderNumber    = "order_number"
	FieldOrganizationID = "organization_id"
)

// ColumnMapping maps a logical field to the spreadsheet headers that may carry it.
type ColumnMapping map[string][]string

func (m ColumnMapping) Columns(field string) []string {
	if m == nil {
		return nil
	}
	return m[field]
}

type Campaign struct {
	ID                  string                            `gorm:"column:id;primaryKey" json:"id"`
	Title               string                            `gorm:"column:title;type:varchar(255);not null" json:"title"`
	StartAt             time.Time                         `gorm:"column:start_at;not null" json:"start_at"`
	EndAt               time.Time                         `gorm:"column:end_at;not null" json:"end_at"`
	CurrencyPerCard     int64                             `gorm:"column:currency_per_card;not null;default:0" json:"currency_per_card"`
	CashPerCard         decimal.Decimal                   `gorm:"column:cash_per_card;type:decimal(18,2);not null" json:"cash_per_card"`
	CommissionRate      decimal.Decimal                   `gorm:"column:commission_rate;type:decimal(5,4);not null" json:"commission_rate"`
	AllOrganizations    bool                              `gorm:"column:all_organizations;not null;default:false" json:"all_organizations"`
	TargetOrganizations datatypes.JSONSlice[string]       `gorm:"column:target_organizations" json:"target_organizations"`
	ColumnMapping       datatypes.JSONType[ColumnMapping] `gorm:"column:column_mapping" json:"column_mapping"`
	Status              Status                            `gorm:"column:status;type:varchar(20);not null;default:'ACTIVE';index" json:"status"`
	Cards               []Card                            `gorm:"foreignKey:CampaignID" json:"cards,omitempty"`
	CreatedAt           time.Time                         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time                         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

type Card struct {
	ID           string        `gorm:"column:id;primaryKey" json:"id"`
	CampaignID   string        `gorm:"column:campaign_id;not null;uniqueIndex:uq_card_campaign_number" json:"campaign_id"`
	Number       int           `gorm:"column:number;not null;uniqueIndex:uq_card_campaign_number" json:"number"`
	Requirements []Requirement `gorm:"foreignKey:CardID" json:"requirements,omitempty"`
}

type Requirement struct {
	ID          string `gorm:"column:id;primaryKey" json:"id"`
	CardID      string `gorm:"column:card_id;not null;index" json:"card_id"`
	CampaignID  string `gorm:"column:campaign_id;not null;index:idx_requirement_campaign_order" json:"campaign_id"`
	Description string `gorm:"column:description;type:text" json:"description"`
	Quantity    int    `gorm:"column:quantity;not null" json:"quantity"`
	Unit        string `gorm:"column:unit;type:varchar(30)" json:"unit"`
	OrderIndex  int    `gorm:"column:order_index;not null;index:idx_requirement_campaign_order" json:"order_index"`
	// Expression is an optional CEL guard over the matched row, evaluated after Conditions.
	Expression string      `gorm:"column:expression;type:text" json:"expression,omitempty"`
	Conditions []Condition `gorm:"foreignKey:RequirementID" json:"conditions,omitempty"`
}

type Condition struct {
	ID            string   `gorm:"column:id;primaryKey" json:"id"`
	RequirementID string   `gorm:"column:requirement_id;not null;index" json:"requirement_id"`
	Field         string   `gorm:"column:field;not null" json:"field"`
	Operator      Operator `gorm:"column:operator;type:varchar(20);not null" json:"operator"`
	Expected      string   `gorm:"column:expected" json:"expected"`
}

// IsOpen reports whether submissions are accepted at now.
func (c *Campaign) IsOpen(now time.Time) bool {
	if c.Status != StatusActive {
		return false
	}
	return !now.Before(c.StartAt) && !now.After(c.EndAt)
}

// Targets reports whether any of the given organization ids is targeted.
func (c *Campaign) Targets(organizationIDs ...string) bool {
	if c.AllOrganizations {
		return true
	}
	for _, id := range organizationIDs {
		if id != "" && slices.Contains(c.TargetOrganizations, id) {
			return true
		}
	}
	return false
}

func (c *Campaign) Mapping() ColumnMapping {
	return c.ColumnMapping.Data()
}

func Models() []any {
	return []any{&Campaign{}, &Card{}, &Requirement{}, &Condition{}}
}
