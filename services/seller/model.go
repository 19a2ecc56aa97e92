package seller

import "time"

// Organization is a store. TaxID is the registered company number as typed by operators.
type Organization struct {
	ID        string        `gorm:"column:id;primaryKey" json:"id"`
	Name      string        `gorm:"column:name;type:varchar(255)" json:"name"`
	TaxID     string        `gorm:"column:tax_id;type:varchar(32);uniqueIndex" json:"tax_id"`
	ParentID  *string       `gorm:"column:parent_id;index" json:"parent_id,omitempty"`
	Parent    *Organization `gorm:"foreignKey:ParentID" json:"parent,omitempty"`
	CreatedAt time.Time     `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

type Seller struct {
	ID             string        `gorm:"column:id;primaryKey" json:"id"`
	Name           string        `gorm:"column:name;type:varchar(255)" json:"name"`
	OrganizationID *string       `gorm:"column:organization_id;index" json:"organization_id,omitempty"`
	Organization   *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
	SupervisorID   *string       `gorm:"column:supervisor_id;index" json:"supervisor_id,omitempty"`
	CoinBalance    int64         `gorm:"column:coin_balance;not null;default:0" json:"coin_balance"`
	RankingPoints  int64         `gorm:"column:ranking_points;not null;default:0" json:"ranking_points"`
	CreatedAt      time.Time     `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// Identity is what reconciliation needs to know about who a seller sells for.
type Identity struct {
	SellerID       string
	OrganizationID string
	OrgTaxID       string
	ParentID       string
	ParentTaxID    string
}

func (s *Seller) Identity() Identity {
	id := Identity{SellerID: s.ID}
	if s.Organization == nil {
		return id
	}

	id.OrganizationID = s.Organization.ID
	id.OrgTaxID = s.Organization.TaxID
	if s.Organization.Parent != nil {
		id.ParentID = s.Organization.Parent.ID
		id.ParentTaxID = s.Organization.Parent.TaxID
	}
	return id
}

func (i Identity) HasOrganization() bool {
	return i.OrganizationID != ""
}

func Models() []any {
	return []any{&Organization{}, &Seller{}}
}
