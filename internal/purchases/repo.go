package purchases

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/pagination"
)

// Repository is the append-only purchase ledger.
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

// Create appends a purchase row.
func (r *Repository) Create(ctx context.Context, purchase *models.Purchase) error {
	return r.db.WithContext(ctx).Create(purchase).Error
}

// CountByUser counts every purchase the user has ever made.
func (r *Repository) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Purchase{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// FindByIdempotencyKey returns the purchase previously settled with key.
func (r *Repository) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := r.db.WithContext(ctx).First(&purchase, "user_id = ? AND idempotency_key = ?", userID, key).Error; err != nil {
		return nil, err
	}
	return &purchase, nil
}

// MarkReferralAwarded flips referral_credit_awarded once; a second call matches nothing.
func (r *Repository) MarkReferralAwarded(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("id = ? AND referral_credit_awarded = ?", id, false).
		UpdateColumn("referral_credit_awarded", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListByUser returns the user's purchases newest-first plus one look-ahead row.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Purchase, error) {
	var rows []models.Purchase
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Scopes(pagination.Keyset("", limit, cursor)).
		Find(&rows).Error
	return rows, err
}
