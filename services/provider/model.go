package provider

import (
	"time"

	"gorm.io/datatypes"
)

type SyncStatus string

const (
	SyncIdle      SyncStatus = "idle"
	SyncSyncing   SyncStatus = "syncing"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// Provider is an upstream SMM vendor reachable over HTTP. Balance and the
// sync_* fields are owned by the catalog reconciler; everything else is
// admin-managed.
type Provider struct {
	ID           string     `json:"id" gorm:"column:id;primaryKey"`
	Name         string     `json:"name" gorm:"column:name;not null"`
	APIURL       string     `json:"api_url" gorm:"column:api_url;not null"`
	APIKey       string     `json:"-" gorm:"column:api_key;not null"`
	Currency     string     `json:"currency" gorm:"column:currency;default:'USD'"`
	Balance      float64    `json:"balance" gorm:"column:balance;default:0"`
	SyncStatus   SyncStatus `json:"sync_status" gorm:"column:sync_status;default:'idle'"`
	SyncError    string     `json:"sync_error,omitempty" gorm:"column:sync_error"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" gorm:"column:last_synced_at"`
	// LastSyncStats holds the summary of the most recent completed sync.
	LastSyncStats datatypes.JSON `json:"last_sync_stats,omitempty" gorm:"column:last_sync_stats"`
	Active       bool       `json:"active" gorm:"column:active;default:true"`
	CreatedAt    time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Provider) TableName() string { return "providers" }
