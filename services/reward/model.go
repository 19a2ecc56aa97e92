package reward

import "time"

// CompletedCard marks that a seller was paid for one card of a campaign. At most one exists per
// (seller, campaign, card number).
type CompletedCard struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	SellerID     string    `gorm:"column:seller_id;not null;uniqueIndex:uq_completed_card" json:"seller_id"`
	CampaignID   string    `gorm:"column:campaign_id;not null;uniqueIndex:uq_completed_card" json:"campaign_id"`
	CardNumber   int       `gorm:"column:card_number;not null;uniqueIndex:uq_completed_card" json:"card_number"`
	SubmissionID string    `gorm:"column:submission_id;not null" json:"submission_id"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func Models() []any {
	return []any{&CompletedCard{}}
}

// Outcome describes what one trigger invocation did.
type Outcome struct {
	SubmissionID    string   `json:"submission_id"`
	CardNumber      int      `json:"card_number"`
	Overflow        bool     `json:"overflow,omitempty"`
	Completed       bool     `json:"completed"`
	Rewarded        bool     `json:"rewarded"`
	CompletedCardID string   `json:"completed_card_id,omitempty"`
	NotificationIDs []string `json:"-"`
}
