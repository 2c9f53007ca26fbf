package model

import (
	"time"

	"gorm.io/datatypes"
)

// Event is a single engagement event. EventID is either the provider-assigned
// id (polling) or the SHA-256 of the webhook body (push).
type Event struct {
	ID           uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	EventID      string         `json:"event_id" gorm:"type:varchar(100);not null;uniqueIndex"`
	SubscriberID *uint          `json:"subscriber_id" gorm:"index;index:idx_subscriber_created,priority:1"`
	EventType    string         `json:"event_type" gorm:"type:varchar(50);not null;index;index:idx_event_type_created,priority:1"`
	EmailID      *string        `json:"email_id" gorm:"type:varchar(100);index"`
	LinkURL      *string        `json:"link_url" gorm:"type:varchar(500)"`
	Metadata     datatypes.JSON `json:"metadata" gorm:"column:event_metadata"`
	CreatedAt    time.Time      `json:"created_at" gorm:"index;index:idx_subscriber_created,priority:2;index:idx_event_type_created,priority:2"`
}

// TableName specifies the table name for Event
func (Event) TableName() string {
	return "events"
}
