package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditshare-backend/pkg/enums"
)

// Referral links a referrer to the user they brought in. One row per referred user.
type Referral struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	ReferrerID     uuid.UUID            `gorm:"column:referrer_id;type:uuid;not null;index:idx_referrals_referrer_status,priority:1;check:chk_referrals_not_self,referrer_id <> referred_user_id"`
	ReferredUserID uuid.UUID            `gorm:"column:referred_user_id;type:uuid;not null;uniqueIndex:ux_referrals_referred_user_id"`
	Status         enums.ReferralStatus `gorm:"column:status;type:text;not null;default:'pending';index:idx_referrals_referrer_status,priority:2"`
	CreditsAwarded bool                 `gorm:"column:credits_awarded;not null;default:false;check:chk_referrals_awarded_converted,(credits_awarded = false AND status = 'pending' AND converted_at IS NULL) OR (credits_awarded = true AND status = 'converted' AND converted_at IS NOT NULL)"`
	ConvertedAt    *time.Time           `gorm:"column:converted_at"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *Referral) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
