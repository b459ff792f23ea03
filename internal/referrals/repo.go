package referrals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/enums"
	"github.com/angelmondragon/creditshare-backend/pkg/pagination"
)

// ErrSelfReferral rejects a referral whose two sides are the same user.
var ErrSelfReferral = errors.New("referrer and referred user must differ")

// Repository persists the referral ledger.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Create inserts a pending referral.
func (r *Repository) Create(ctx context.Context, referrerID, referredUserID uuid.UUID) (*models.Referral, error) {
	if referrerID == referredUserID {
		return nil, ErrSelfReferral
	}
	row := &models.Referral{
		ReferrerID:     referrerID,
		ReferredUserID: referredUserID,
		Status:         enums.ReferralPending,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

// FindByReferredUser returns the referral that brought the user in.
func (r *Repository) FindByReferredUser(ctx context.Context, referredUserID uuid.UUID) (*models.Referral, error) {
	var row models.Referral
	if err := r.db.WithContext(ctx).First(&row, "referred_user_id = ?", referredUserID).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// ConvertPending moves the user's pending referral to converted. Only one caller
// can ever match the row; the others get (nil, false).
func (r *Repository) ConvertPending(ctx context.Context, referredUserID uuid.UUID, at time.Time) (*models.Referral, bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Referral{}).
		Where("referred_user_id = ? AND status = ? AND credits_awarded = ?", referredUserID, enums.ReferralPending, false).
		UpdateColumns(map[string]any{
			"status":          enums.ReferralConverted,
			"credits_awarded": true,
			"converted_at":    at,
			"updated_at":      at,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	row, err := r.FindByReferredUser(ctx, referredUserID)
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}

// Counts is the aggregate view of a referrer's ledger.
type Counts struct {
	Total     int64
	Converted int64
}

// CountsByReferrer aggregates in one grouped query.
func (r *Repository) CountsByReferrer(ctx context.Context, referrerID uuid.UUID) (Counts, error) {
	var counts Counts
	err := r.db.WithContext(ctx).
		Model(&models.Referral{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS converted", enums.ReferralConverted).
		Where("referrer_id = ?", referrerID).
		Scan(&counts).Error
	return counts, err
}

// ReferredUser is one row of a referrer's referred-user listing.
type ReferredUser struct {
	ReferralID  uuid.UUID            `gorm:"column:referral_id"`
	UserID      uuid.UUID            `gorm:"column:user_id"`
	Name        string               `gorm:"column:name"`
	Status      enums.ReferralStatus `gorm:"column:status"`
	ConvertedAt *time.Time           `gorm:"column:converted_at"`
	ReferredAt  time.Time            `gorm:"column:referred_at"`
}

// ListReferredUsers pages newest-first over (created_at, id).
func (r *Repository) ListReferredUsers(ctx context.Context, referrerID uuid.UUID, limit int, cursor *pagination.Cursor) ([]ReferredUser, error) {
	q := r.db.WithContext(ctx).
		Table("referrals AS r").
		Select("r.id AS referral_id, u.id AS user_id, u.name, r.status, r.converted_at, r.created_at AS referred_at").
		Joins("JOIN users u ON u.id = r.referred_user_id").
		Where("r.referrer_id = ?", referrerID).
		Scopes(pagination.Keyset("r", limit, cursor))

	var rows []ReferredUser
	return rows, q.Scan(&rows).Error
}

// CounterDrift pairs a user's stored referral counter with the ledger count.
type CounterDrift struct {
	UserID uuid.UUID `gorm:"column:user_id"`
	Stored int       `gorm:"column:stored"`
	Actual int       `gorm:"column:actual"`
}

// ListCounterDrift returns users whose total_referred_users disagrees with the ledger.
func (r *Repository) ListCounterDrift(ctx context.Context, limit int) ([]CounterDrift, error) {
	var rows []CounterDrift
	err := r.db.WithContext(ctx).
		Table("users AS u").
		Select("u.id AS user_id, u.total_referred_users AS stored, COUNT(r.id) AS actual").
		Joins("LEFT JOIN referrals r ON r.referrer_id = u.id").
		Group("u.id, u.total_referred_users").
		Having("COUNT(r.id) <> u.total_referred_users").
		Order("u.id").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
