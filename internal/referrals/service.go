package referrals

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
	"github.com/angelmondragon/creditshare-backend/pkg/pagination"
)

// Service reads referral statistics. It never writes.
type Service interface {
	GetReferralStats(ctx context.Context, referrerID uuid.UUID, opts StatsOptions) (*ReferralStats, error)
	GetDashboard(ctx context.Context, userID uuid.UUID) (*Dashboard, error)
}

// StatsOptions toggles the referred-user listing and pages through it.
type StatsOptions struct {
	IncludeUsers bool
	Limit        int
	Cursor       string
}

// ReferredUserDTO is a referred user as shown to their referrer.
type ReferredUserDTO struct {
	UserID      uuid.UUID            `json:"user_id"`
	Name        string               `json:"name"`
	Status      enums.ReferralStatus `json:"status"`
	ConvertedAt *time.Time           `json:"converted_at,omitempty"`
	ReferredAt  time.Time            `json:"referred_at"`
}

type ReferralStats struct {
	TotalReferred  int64                             `json:"total_referred"`
	ConvertedUsers int64                             `json:"converted_users"`
	Users          *pagination.Page[ReferredUserDTO] `json:"users,omitempty"`
}

// Dashboard is the signed-in user's summary card.
type Dashboard struct {
	Name               string `json:"name"`
	ReferralCode       string `json:"referral_code"`
	ReferralLink       string `json:"referral_link"`
	CreditBalance      int    `json:"credit_balance"`
	TotalCreditsEarned int    `json:"total_credits_earned"`
	TotalReferred      int64  `json:"total_referred"`
	ConvertedUsers     int64  `json:"converted_users"`
}

type userLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type ledgerReader interface {
	CountsByReferrer(ctx context.Context, referrerID uuid.UUID) (Counts, error)
	ListReferredUsers(ctx context.Context, referrerID uuid.UUID, limit int, cursor *pagination.Cursor) ([]ReferredUser, error)
}

type service struct {
	ledger      ledgerReader
	users       userLoader
	frontendURL string
}

// NewService constructs the statistics reader; frontendURL prefixes referral links.
func NewService(ledger ledgerReader, users userLoader, frontendURL string) (Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("referral repository required")
	}
	if users == nil {
		return nil, fmt.Errorf("user repository required")
	}
	if strings.TrimSpace(frontendURL) == "" {
		return nil, fmt.Errorf("frontend url required")
	}
	return &service{ledger: ledger, users: users, frontendURL: strings.TrimRight(frontendURL, "/")}, nil
}

func (s *service) GetReferralStats(ctx context.Context, referrerID uuid.UUID, opts StatsOptions) (*ReferralStats, error) {
	if referrerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referrer id is required")
	}

	counts, err := s.ledger.CountsByReferrer(ctx, referrerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "count referrals")
	}
	stats := &ReferralStats{TotalReferred: counts.Total, ConvertedUsers: counts.Converted}
	if !opts.IncludeUsers {
		return stats, nil
	}

	cursor, err := pagination.ParseCursor(opts.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.ledger.ListReferredUsers(ctx, referrerID, opts.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list referred users")
	}

	stats.Users = pagination.Build(rows, opts.Limit, referredUserDTO, func(row *ReferredUser) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.ReferredAt, ID: row.ReferralID}
	})
	return stats, nil
}

func (s *service) GetDashboard(ctx context.Context, userID uuid.UUID) (*Dashboard, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load user")
	}

	counts, err := s.ledger.CountsByReferrer(ctx, user.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "count referrals")
	}

	return &Dashboard{
		Name:               user.Name,
		ReferralCode:       user.ReferralCode,
		ReferralLink:       s.ReferralLink(user.ReferralCode),
		CreditBalance:      user.CreditBalance,
		TotalCreditsEarned: user.TotalCreditsEarned,
		TotalReferred:      counts.Total,
		ConvertedUsers:     counts.Converted,
	}, nil
}

// ReferralLink builds the sign-up link carrying the code.
func (s *service) ReferralLink(code string) string {
	return s.frontendURL + "/register?r=" + url.QueryEscape(code)
}

func referredUserDTO(row *ReferredUser) ReferredUserDTO {
	return ReferredUserDTO{
		UserID:      row.UserID,
		Name:        row.Name,
		Status:      row.Status,
		ConvertedAt: row.ConvertedAt,
		ReferredAt:  row.ReferredAt,
	}
}
