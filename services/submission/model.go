package submission

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusConflict Status = "CONFLICT"
)

var ErrInvalidTransition = errors.New("invalid submission status transition")

// transitions lists every allowed move. APPROVED is final.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusConflict},
	StatusConflict: {StatusApproved, StatusRejected},
	StatusRejected: {StatusApproved},
}

func (s Status) CanTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusConflict:
		return true
	}
	return false
}

type Submission struct {
	ID            string     `gorm:"column:id;primaryKey" json:"id"`
	OrderNumber   string     `gorm:"column:order_number;type:varchar(64);not null;uniqueIndex:uq_submission_order_seller_campaign" json:"order_number"`
	SellerID      string     `gorm:"column:seller_id;not null;uniqueIndex:uq_submission_order_seller_campaign;index:idx_submission_seller_status" json:"seller_id"`
	CampaignID    string     `gorm:"column:campaign_id;not null;uniqueIndex:uq_submission_order_seller_campaign;index:idx_submission_campaign_status" json:"campaign_id"`
	RequirementID string     `gorm:"column:requirement_id;not null;index" json:"requirement_id"`
	Status        Status     `gorm:"column:status;type:varchar(20);not null;default:'PENDING';index:idx_submission_campaign_status;index:idx_submission_seller_status" json:"status"`
	Reason        *string    `gorm:"column:reason;type:text" json:"reason,omitempty"`
	CardNumber    *int       `gorm:"column:card_number" json:"card_number,omitempty"`
	DecidedAt     *time.Time `gorm:"column:decided_at" json:"decided_at,omitempty"`
	DecidedBy     *string    `gorm:"column:decided_by" json:"decided_by,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (s *Submission) IsPending() bool {
	return s.Status == StatusPending
}

// Decision carries the audit data of a status change.
type Decision struct {
	Reason string
	Actor  string
	At     time.Time
}

func Models() []any {
	return []any{&Submission{}}
}
