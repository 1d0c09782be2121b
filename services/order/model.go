package order

import "time"

// Vendor panels report status as free text; it is lowercased and stored
// verbatim so new vendor statuses pass through without a mapping release.
// The constants below are the ones this engine branches on.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusInProgress = "in progress"
	StatusCompleted  = "completed"
	StatusPartial    = "partial"
	StatusCanceled   = "canceled"
)

// terminal statuses are never re-polled. Canceled is not terminal: some
// vendors resume a canceled order, so it stays eligible for refresh.
func isTerminal(status string) bool {
	return status == StatusCompleted || status == StatusPartial
}

type Order struct {
	ID              string  `json:"id" gorm:"column:id;primaryKey"`
	UserID          string  `json:"user_id" gorm:"column:user_id;index;not null"`
	ServiceID       string  `json:"service_id" gorm:"column:service_id;not null"`
	ProviderOrderID *string `json:"provider_order_id,omitempty" gorm:"column:provider_order_id"`
	Link            string  `json:"link" gorm:"column:link;not null"`
	Quantity        int     `json:"quantity" gorm:"column:quantity;not null"`
	Charge          float64 `json:"charge" gorm:"column:charge;not null"`
	Status          string  `json:"status" gorm:"column:status;default:'pending'"`
	StartCount      int     `json:"start_count" gorm:"column:start_count;default:0"`
	Remains         int     `json:"remains" gorm:"column:remains;default:0"`
	Comment         string  `json:"comment,omitempty" gorm:"column:comment"`

	// LastDispatchError is the most recent vendor add failure, kept for
	// operators. Comment stays the customer's own text.
	LastDispatchError string `json:"last_dispatch_error,omitempty" gorm:"column:last_dispatch_error"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }
