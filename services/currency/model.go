package currency

import "time"

// ExchangeRate maps a currency code to its multiplier against the settlement
// currency.
type ExchangeRate struct {
	Code      string    `json:"code" gorm:"column:code;primaryKey"`
	Rate      float64   `json:"rate" gorm:"column:rate;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (ExchangeRate) TableName() string { return "exchange_rates" }
