package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents a shopper synced from the identity provider.
type User struct {
	ID                 uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ExternalID         string     `gorm:"column:external_id;type:text;not null;uniqueIndex:ux_users_external_id"`
	Name               string     `gorm:"column:name;type:text;not null;default:''"`
	Email              string     `gorm:"column:email;type:text;not null;default:''"`
	ReferralCode       string     `gorm:"column:referral_code;type:text;not null;uniqueIndex:ux_users_referral_code"`
	CreditBalance      int        `gorm:"column:credit_balance;not null;default:0;check:chk_users_credit_balance,credit_balance >= 0"`
	TotalCreditsEarned int        `gorm:"column:total_credits_earned;not null;default:0;check:chk_users_total_credits_earned,total_credits_earned >= 0"`
	ReferredByUserID   *uuid.UUID `gorm:"column:referred_by_user_id;type:uuid"`
	TotalReferredUsers int        `gorm:"column:total_referred_users;not null;default:0"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
