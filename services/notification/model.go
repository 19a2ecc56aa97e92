package notification

import "time"

// Notification is an outbox row. It is written with the reward it announces and published by the worker.
type Notification struct {
	ID          string     `gorm:"column:id;primaryKey" json:"id"`
	RecipientID string     `gorm:"column:recipient_id;not null;index" json:"recipient_id"`
	Message     string     `gorm:"column:message;type:text;not null" json:"message"`
	Link        *string    `gorm:"column:link" json:"link,omitempty"`
	DedupeKey   string     `gorm:"column:dedupe_key;not null;uniqueIndex" json:"-"`
	Published   bool       `gorm:"column:published;not null;default:false;index" json:"published"`
	PublishedAt *time.Time `gorm:"column:published_at" json:"published_at,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func Models() []any {
	return []any{&Notification{}}
}
