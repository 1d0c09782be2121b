package ledger

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindDeposit Kind = "deposit"
	KindManual  Kind = "manual"
	KindBonus   Kind = "bonus"
	KindFee     Kind = "fee"
	KindSpend   Kind = "spend"
	KindRefund  Kind = "refund"
)

type TxStatus string

const (
	TxPending  TxStatus = "pending"
	TxApproved TxStatus = "approved"
	TxRejected TxStatus = "rejected"
	TxRefunded TxStatus = "refunded"
)

// Transaction is one ledger row. Amount is always stored positive; Effect
// gives the signed balance impact, so a fee of 2.50 is stored as 2.50 and
// debits the balance by 2.50.
type Transaction struct {
	ID              string   `json:"id" gorm:"column:id;primaryKey"`
	UserID          string   `json:"user_id" gorm:"column:user_id;index;not null"`
	Kind            Kind     `json:"kind" gorm:"column:kind;not null"`
	Amount          float64  `json:"amount" gorm:"column:amount;not null"`
	Status          TxStatus `json:"status" gorm:"column:status;default:'pending'"`
	ParentID        *string  `json:"parent_id,omitempty" gorm:"column:parent_id;index"`
	PaymentMethodID *string  `json:"payment_method_id,omitempty" gorm:"column:payment_method_id"`
	OrderID         *string  `json:"order_id,omitempty" gorm:"column:order_id;index"`
	Note            string   `json:"note,omitempty" gorm:"column:note"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Transaction) TableName() string { return "transactions" }

// Effect is the signed balance impact of a row. Approval and refund both go
// through it, which keeps a refund the exact inverse of the approval it
// reverses.
func Effect(kind Kind, amount float64) float64 {
	switch kind {
	case KindDeposit, KindManual, KindBonus:
		return amount
	case KindFee, KindSpend, KindRefund:
		return -amount
	default:
		return 0
	}
}

// NewSpend builds the approved ledger row for an order charge. Spends have
// no approval step; the money moves in the same transaction that creates
// the order.
func NewSpend(node *snowflake.Node, userID, orderID string, amount float64) *Transaction {
	return &Transaction{
		ID:      node.Generate().String(),
		UserID:  userID,
		Kind:    KindSpend,
		Amount:  amount,
		Status:  TxApproved,
		OrderID: &orderID,
	}
}

// PaymentMethod defines the bonus and fee applied when a deposit through it
// is approved.
type PaymentMethod struct {
	ID           string  `json:"id" gorm:"column:id;primaryKey"`
	Name         string  `json:"name" gorm:"column:name;not null"`
	BonusPct     float64 `json:"bonus_pct" gorm:"column:bonus_pct;default:0"`
	ChargeFeePct float64 `json:"charge_fee_pct" gorm:"column:charge_fee_pct;default:0"`
	Active       bool    `json:"active" gorm:"column:active;default:true"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

// AffiliateCommission records the referrer cut of an approved deposit.
type AffiliateCommission struct {
	ID            string  `json:"id" gorm:"column:id;primaryKey"`
	UserID        string  `json:"user_id" gorm:"column:user_id;index;not null"`
	SourceUserID  string  `json:"source_user_id" gorm:"column:source_user_id;not null"`
	TransactionID string  `json:"transaction_id" gorm:"column:transaction_id;not null"`
	Amount        float64 `json:"amount" gorm:"column:amount;not null"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (AffiliateCommission) TableName() string { return "affiliate_commissions" }
