package users

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
)

// Repository persists users and their credit counters.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx rebinds the repository to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, dto CreateUserDTO) (*models.User, error) {
	user := dto.ToModel()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func (r *Repository) first(ctx context.Context, column string, value any) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where(column+" = ?", value).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.first(ctx, "id", id)
}

// FindByExternalID loads the user bound to an identity-provider subject.
func (r *Repository) FindByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	return r.first(ctx, "external_id", externalID)
}

// FindByReferralCode matches codes case-insensitively; stored codes are uppercase.
func (r *Repository) FindByReferralCode(ctx context.Context, code string) (*models.User, error) {
	return r.first(ctx, "referral_code", strings.ToUpper(strings.TrimSpace(code)))
}

func (r *Repository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// update applies column changes to the rows matching where and stamps
// updated_at. It returns the number of rows touched.
func (r *Repository) update(ctx context.Context, changes map[string]any, where string, args ...any) (int64, error) {
	changes["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.User{}).Where(where, args...).UpdateColumns(changes)
	return res.RowsAffected, res.Error
}

// mustTouch maps a zero-row update onto gorm.ErrRecordNotFound.
func mustTouch(n int64, err error) error {
	if err == nil && n == 0 {
		return gorm.ErrRecordNotFound
	}
	return err
}

// DebitCredits subtracts amount only when the balance covers it. False means
// no row matched: the user is missing or the balance is too low.
func (r *Repository) DebitCredits(ctx context.Context, id uuid.UUID, amount int) (bool, error) {
	n, err := r.update(ctx, map[string]any{
		"credit_balance": gorm.Expr("credit_balance - ?", amount),
	}, "id = ? AND credit_balance >= ?", id, amount)
	return n == 1, err
}

// AwardCredits adds amount to both the spendable balance and the lifetime total.
func (r *Repository) AwardCredits(ctx context.Context, id uuid.UUID, amount int) error {
	return mustTouch(r.update(ctx, map[string]any{
		"credit_balance":       gorm.Expr("credit_balance + ?", amount),
		"total_credits_earned": gorm.Expr("total_credits_earned + ?", amount),
	}, "id = ?", id))
}

// IncrementReferredUsers bumps the referrer's denormalized referral counter.
func (r *Repository) IncrementReferredUsers(ctx context.Context, id uuid.UUID) error {
	return mustTouch(r.update(ctx, map[string]any{
		"total_referred_users": gorm.Expr("total_referred_users + 1"),
	}, "id = ?", id))
}

// SetReferredUsers overwrites the counter only while it still equals expected;
// false means a concurrent sync moved it first.
func (r *Repository) SetReferredUsers(ctx context.Context, id uuid.UUID, expected, actual int) (bool, error) {
	n, err := r.update(ctx, map[string]any{
		"total_referred_users": actual,
	}, "id = ? AND total_referred_users = ?", id, expected)
	return n == 1, err
}
