package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Purchase is an append-only record of a settled order.
type Purchase struct {
	ID                    uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	UserID                uuid.UUID       `gorm:"column:user_id;type:uuid;not null;index:idx_purchases_user_created,priority:1;uniqueIndex:ux_purchases_user_idempotency_key,priority:1"`
	ProductID             uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	ProductName           string          `gorm:"column:product_name;type:text;not null"`
	Amount                decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	CreditsUsed           int             `gorm:"column:credits_used;not null;default:0"`
	CreditAmount          decimal.Decimal `gorm:"column:credit_amount;type:numeric(12,2);not null"`
	CashAmount            decimal.Decimal `gorm:"column:cash_amount;type:numeric(12,2);not null;check:chk_purchases_split,round(credit_amount + cash_amount, 2) = round(amount, 2)"`
	IsFirstPurchase       bool            `gorm:"column:is_first_purchase;not null;default:false"`
	ReferralCreditAwarded bool            `gorm:"column:referral_credit_awarded;not null;default:false"`
	IdempotencyKey        *string         `gorm:"column:idempotency_key;type:text;uniqueIndex:ux_purchases_user_idempotency_key,priority:2"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime;index:idx_purchases_user_created,priority:2"`
}

func (p *Purchase) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
