package catalog

import "time"

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Service is one resellable catalog entry, mapped 1:1 to a vendor's external
// service id. Raw* hold the vendor's text untouched; Name and Category are
// the curated display fields and may be hand-edited by an admin.
type Service struct {
	ID          string  `json:"id" gorm:"column:id;primaryKey"`
	ProviderID  string  `json:"provider_id" gorm:"column:provider_id;uniqueIndex:idx_provider_external;not null"`
	ExternalID  string  `json:"external_id" gorm:"column:external_id;uniqueIndex:idx_provider_external;not null"`
	RawName     string  `json:"raw_name" gorm:"column:raw_name"`
	RawCategory string  `json:"raw_category" gorm:"column:raw_category"`
	Name        string  `json:"name" gorm:"column:name"`
	Category    string  `json:"category" gorm:"column:category"`
	Rate        float64 `json:"rate" gorm:"column:rate;not null"`
	Min         int     `json:"min" gorm:"column:min_quantity"`
	Max         int     `json:"max" gorm:"column:max_quantity"`
	Status      Status  `json:"status" gorm:"column:status;default:'active'"`
	Type        string  `json:"type,omitempty" gorm:"column:type"`
	Description string  `json:"description,omitempty" gorm:"column:description"`
	AverageTime string  `json:"average_time,omitempty" gorm:"column:average_time"`
	Guarantee   string  `json:"guarantee,omitempty" gorm:"column:guarantee"`
	Refill      bool    `json:"refill" gorm:"column:refill"`
	StartTime   string  `json:"start_time,omitempty" gorm:"column:start_time"`
	Speed       string  `json:"speed,omitempty" gorm:"column:speed"`
	Margin      float64 `json:"margin" gorm:"column:margin;default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Service) TableName() string { return "services" }

// CustomerRate is the customer-facing price per 1000 units with the
// per-service margin applied on top of the vendor rate.
func (s *Service) CustomerRate() float64 {
	return s.Rate * (1 + s.Margin/100)
}

// SyncResult summarizes one reconciliation pass over a vendor catalog.
type SyncResult struct {
	Added       int `json:"added"`
	Updated     int `json:"updated"`
	Deactivated int `json:"deactivated"`
	TotalSeen   int `json:"total_seen"`
}
