package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UserSyncedEvent is emitted when an identity sync creates a user.
type UserSyncedEvent struct {
	UserID       uuid.UUID  `json:"user_id"`
	ExternalID   string     `json:"external_id"`
	ReferralCode string     `json:"referral_code"`
	ReferredBy   *uuid.UUID `json:"referred_by,omitempty"`
}

// ReferralCreatedEvent records a new pending referral.
type ReferralCreatedEvent struct {
	ReferralID     uuid.UUID `json:"referral_id"`
	ReferrerID     uuid.UUID `json:"referrer_id"`
	ReferredUserID uuid.UUID `json:"referred_user_id"`
}

// ReferralConvertedEvent fires once per referral when credits are awarded.
type ReferralConvertedEvent struct {
	ReferralID      uuid.UUID `json:"referral_id"`
	ReferrerID      uuid.UUID `json:"referrer_id"`
	ReferredUserID  uuid.UUID `json:"referred_user_id"`
	PurchaseID      uuid.UUID `json:"purchase_id"`
	ReferrerCredits int       `json:"referrer_credits"`
	UserCredits     int       `json:"user_credits"`
	ConvertedAt     time.Time `json:"converted_at"`
}

// PurchaseSettledEvent describes a committed settlement.
type PurchaseSettledEvent struct {
	PurchaseID            uuid.UUID       `json:"purchase_id"`
	UserID                uuid.UUID       `json:"user_id"`
	ProductID             uuid.UUID       `json:"product_id"`
	Amount                decimal.Decimal `json:"amount"`
	CreditsUsed           int             `json:"credits_used"`
	CreditAmount          decimal.Decimal `json:"credit_amount"`
	CashAmount            decimal.Decimal `json:"cash_amount"`
	IsFirstPurchase       bool            `json:"is_first_purchase"`
	ReferralCreditAwarded bool            `json:"referral_credit_awarded"`
}
