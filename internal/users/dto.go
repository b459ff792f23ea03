package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
)

// UserDTO is the transport shape of a synced user.
type UserDTO struct {
	ID                 uuid.UUID  `json:"id"`
	ExternalID         string     `json:"external_id"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	ReferralCode       string     `json:"referral_code"`
	CreditBalance      int        `json:"credit_balance"`
	TotalCreditsEarned int        `json:"total_credits_earned"`
	ReferredByUserID   *uuid.UUID `json:"referred_by_user_id,omitempty"`
	TotalReferredUsers int        `json:"total_referred_users"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// CreateUserDTO holds the data required by the repo to persist a new user.
type CreateUserDTO struct {
	ExternalID       string
	Name             string
	Email            string
	ReferralCode     string
	ReferredByUserID *uuid.UUID
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}
	return &UserDTO{
		ID:                 u.ID,
		ExternalID:         u.ExternalID,
		Name:               u.Name,
		Email:              u.Email,
		ReferralCode:       u.ReferralCode,
		CreditBalance:      u.CreditBalance,
		TotalCreditsEarned: u.TotalCreditsEarned,
		ReferredByUserID:   u.ReferredByUserID,
		TotalReferredUsers: u.TotalReferredUsers,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

func (c CreateUserDTO) ToModel() *models.User {
	return &models.User{
		ExternalID:       c.ExternalID,
		Name:             c.Name,
		Email:            c.Email,
		ReferralCode:     c.ReferralCode,
		ReferredByUserID: c.ReferredByUserID,
	}
}
