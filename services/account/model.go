package account

import "time"

// User is the engine-side projection of the out-of-scope user subsystem. Only
// the balance fields and the referral link are consumed here.
type User struct {
	ID               string    `gorm:"column:id;primaryKey"`
	Email            string    `gorm:"column:email;uniqueIndex"`
	Balance          float64   `gorm:"column:balance;not null;default:0"`
	AffiliateBalance float64   `gorm:"column:affiliate_balance;not null;default:0"`
	ReferredBy       *string   `gorm:"column:referred_by;index"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName() string { return "users" }
