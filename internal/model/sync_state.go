package model

import (
	"time"

	"gorm.io/datatypes"
)

// SyncState stores the polling watermark for one logical feed
type SyncState struct {
	Key          string         `json:"key" gorm:"type:varchar(100);primaryKey"`
	LastSyncedAt *time.Time     `json:"last_synced_at"`
	Payload      datatypes.JSON `json:"payload"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TableName specifies the table name for SyncState
func (SyncState) TableName() string {
	return "sync_states"
}
