package reconciliation

import (
	"time"

	"incentive-controlplane/services/campaign"

	"gorm.io/datatypes"
)

// Run is the audit record of a committed reconciliation.
type Run struct {
	ID         string                                     `gorm:"column:id;primaryKey" json:"id"`
	Code       string                                     `gorm:"column:code;type:varchar(50);index" json:"code"`
	CampaignID string                                     `gorm:"column:campaign_id;not null;index" json:"campaign_id"`
	Actor      string                                     `gorm:"column:actor;type:varchar(100)" json:"actor"`
	Total      int                                        `gorm:"column:total;not null" json:"total"`
	Approved   int                                        `gorm:"column:approved;not null" json:"approved"`
	Rejected   int                                        `gorm:"column:rejected;not null" json:"rejected"`
	Conflict   int                                        `gorm:"column:conflict;not null" json:"conflict"`
	Failed     int                                        `gorm:"column:failed;not null" json:"failed"`
	Message    string                                     `gorm:"column:message;type:text" json:"message"`
	Mapping    datatypes.JSONType[campaign.ColumnMapping] `gorm:"column:mapping" json:"mapping"`
	Results    datatypes.JSON                             `gorm:"column:results" json:"results"`
	CreatedAt  time.Time                                  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Run) TableName() string {
	return "reconciliation_runs"
}

func Models() []any {
	return []any{&Run{}}
}
