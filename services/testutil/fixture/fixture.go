// Package fixture seeds campaigns, sellers and submissions for service tests.
package fixture

import (
	"fmt"
	"testing"
	"time"

	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/seller"
	"incentive-controlplane/services/submission"
	"incentive-controlplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StoreTaxID  = "11.222.333/0002-62"
	ParentTaxID = "11.222.333/0001-81"
)

type Fixture struct {
	DB          *gorm.DB
	Node        *snowflake.Node
	Catalog     *campaign.Catalog
	Directory   *seller.Directory
	Submissions *submission.Service
}

func Models() []any {
	models := campaign.Models()
	models = append(models, seller.Models()...)
	return append(models, submission.Models()...)
}

// New opens a test database with the core models plus extra.
func New(t *testing.T, extra ...any) *Fixture {
	t.Helper()

	db := testutil.NewTestDB(t, append(Models(), extra...)...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	catalog := campaign.NewCatalog(campaign.CatalogParams{DB: db})
	directory := seller.NewDirectory(seller.DirectoryParams{DB: db})

	return &Fixture{
		DB:        db,
		Node:      node,
		Catalog:   catalog,
		Directory: directory,
		Submissions: submission.NewService(submission.ServiceParams{
			DB:        db,
			Node:      node,
			Catalog:   catalog,
			Directory: directory,
		}),
	}
}

// Campaign builds an open campaign targeting every organization: 50 coins and 100.00 cash per card,
// 10% commission, order numbers in column "Pedido" and organization ids in column "CNPJ".
func Campaign(id string, cards ...campaign.Card) *campaign.Campaign {
	now := time.Now().UTC()
	for i := range cards {
		cards[i].ID = fmt.Sprintf("%s-card-%d", id, cards[i].Number)
		for j := range cards[i].Requirements {
			cards[i].Requirements[j].CampaignID = id
		}
	}

	return &campaign.Campaign{
		ID:               id,
		Title:            "Campaign " + id,
		StartAt:          now.Add(-24 * time.Hour),
		EndAt:            now.Add(24 * time.Hour),
		CurrencyPerCard:  50,
		CashPerCard:      decimal.RequireFromString("100.00"),
		CommissionRate:   decimal.RequireFromString("0.10"),
		AllOrganizations: true,
		ColumnMapping: datatypes.NewJSONType(campaign.ColumnMapping{
			campaign.FieldOrderNumber:    {"Pedido"},
			campaign.FieldOrganizationID: {"CNPJ"},
		}),
		Status: campaign.StatusActive,
		Cards:  cards,
	}
}

func Card(number int, reqs ...campaign.Requirement) campaign.Card {
	return campaign.Card{Number: number, Requirements: reqs}
}

func Requirement(id string, orderIndex, quantity int, conds ...campaign.Condition) campaign.Requirement {
	for i := range conds {
		conds[i].ID = fmt.Sprintf("%s-cond-%d", id, i)
	}
	return campaign.Requirement{
		ID:          id,
		Description: "requirement " + id,
		Quantity:    quantity,
		Unit:        "ORDER",
		OrderIndex:  orderIndex,
		Conditions:  conds,
	}
}

func (f *Fixture) SaveCampaign(t *testing.T, c *campaign.Campaign) *campaign.Campaign {
	t.Helper()
	require.NoError(t, f.DB.Create(c).Error)
	f.Catalog.Invalidate(c.ID)
	return c
}

// Store creates the default store with its parent organization.
func (f *Fixture) Store(t *testing.T) {
	t.Helper()
	parent := "org-parent"
	require.NoError(t, f.DB.Create(&seller.Organization{ID: parent, Name: "HQ", TaxID: ParentTaxID}).Error)
	require.NoError(t, f.DB.Create(&seller.Organization{ID: "org-store", Name: "Store", TaxID: StoreTaxID, ParentID: &parent}).Error)
}

// Seller creates a seller of the default store. supervisor may be empty.
func (f *Fixture) Seller(t *testing.T, id, supervisor string) *seller.Seller {
	t.Helper()
	org := "org-store"
	s := &seller.Seller{ID: id, Name: "Seller " + id, OrganizationID: &org}
	if supervisor != "" {
		s.SupervisorID = &supervisor
	}
	require.NoError(t, f.DB.Create(s).Error)
	return s
}

// Pending inserts a PENDING submission directly, bypassing intake validation.
func (f *Fixture) Pending(t *testing.T, campaignID, sellerID, requirementID, order string) *submission.Submission {
	t.Helper()
	sub := &submission.Submission{
		ID:            f.Node.Generate().String(),
		OrderNumber:   order,
		SellerID:      sellerID,
		CampaignID:    campaignID,
		RequirementID: requirementID,
		Status:        submission.StatusPending,
	}
	require.NoError(t, f.DB.Create(sub).Error)
	return sub
}

func (f *Fixture) Reload(t *testing.T, id string) *submission.Submission {
	t.Helper()
	var sub submission.Submission
	require.NoError(t, f.DB.First(&sub, "id = ?", id).Error)
	return &sub
}

func (f *Fixture) Balance(t *testing.T, sellerID string) (coins, points int64) {
	t.Helper()
	var s seller.Seller
	require.NoError(t, f.DB.First(&s, "id = ?", sellerID).Error)
	return s.CoinBalance, s.RankingPoints
}
