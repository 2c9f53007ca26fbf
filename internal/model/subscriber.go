package model

import "time"

// SubscriberStatus is the lifecycle state of a newsletter subscriber
type SubscriberStatus string

const (
	StatusActive       SubscriberStatus = "active"
	StatusUnsubscribed SubscriberStatus = "unsubscribed"
	StatusBounced      SubscriberStatus = "bounced"
)

// Subscriber represents a newsletter subscriber known to the provider
type Subscriber struct {
	ID               uint             `json:"id" gorm:"primaryKey;autoIncrement"`
	ButtondownID     string           `json:"buttondown_id" gorm:"type:varchar(100);not null;uniqueIndex"`
	Email            string           `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	FirstName        *string          `json:"first_name" gorm:"type:varchar(100)"`
	LastName         *string          `json:"last_name" gorm:"type:varchar(100)"`
	Status           SubscriberStatus `json:"status" gorm:"type:varchar(50);not null;default:active;index;index:idx_status_created,priority:1"`
	SubscriptionDate time.Time        `json:"subscription_date"`
	Source           *string          `json:"source" gorm:"type:varchar(100)"`
	CreatedAt        time.Time        `json:"created_at" gorm:"index:idx_status_created,priority:2"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// TableName specifies the table name for Subscriber
func (Subscriber) TableName() string {
	return "subscribers"
}
