package model

import "time"

// Tag is a provider-side subscriber label
type Tag struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name        string    `json:"name" gorm:"type:varchar(100);not null;uniqueIndex"`
	Description *string   `json:"description" gorm:"type:varchar(500)"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for Tag
func (Tag) TableName() string {
	return "tags"
}

// SubscriberTag links a subscriber to a tag. Both sides are plain ids; the
// repository owns the deletion policy.
type SubscriberTag struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	SubscriberID uint      `json:"subscriber_id" gorm:"not null;uniqueIndex:idx_subscriber_tag,priority:1;index:idx_tag_subscriber,priority:2"`
	TagID        uint      `json:"tag_id" gorm:"not null;uniqueIndex:idx_subscriber_tag,priority:2;index:idx_tag_subscriber,priority:1"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for SubscriberTag
func (SubscriberTag) TableName() string {
	return "subscriber_tags"
}
