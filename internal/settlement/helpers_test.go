package settlement

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditshare-backend/internal/products"
	"github.com/angelmondragon/creditshare-backend/internal/purchases"
	"github.com/angelmondragon/creditshare-backend/internal/referrals"
	"github.com/angelmondragon/creditshare-backend/internal/users"
	"github.com/angelmondragon/creditshare-backend/pkg/db"
	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/enums"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
	"github.com/angelmondragon/creditshare-backend/pkg/outbox"
)

// failingEmitter delegates to the real outbox until it sees failOn.
type failingEmitter struct {
	next   outbox.Emitter
	failOn enums.OutboxEventType
}

func (f failingEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if event.EventType == f.failOn {
		return errors.New("outbox unavailable")
	}
	return f.next.Emit(ctx, tx, event)
}

type harness struct {
	client *db.Client
	conn   *gorm.DB
	svc    *Service
	emit   outbox.Emitter
}

func newHarness(t *testing.T, client *db.Client) *harness {
	t.Helper()
	conn := client.DB()
	emit := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	h := &harness{client: client, conn: conn, emit: emit}
	h.svc = h.build(t, emit)
	return h
}

func (h *harness) build(t *testing.T, emitter outbox.Emitter) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Tx:        h.client,
		Users:     users.NewRepository(h.conn),
		Referrals: referrals.NewRepository(h.conn),
		Purchases: purchases.NewRepository(h.conn),
		Products:  products.NewRepository(h.conn),
		Outbox:    emitter,
		Logger:    logger.Nop(),
	})
	require.NoError(t, err)
	return svc
}

func (h *harness) user(t *testing.T, name string, balance int, referredBy *models.User) *models.User {
	t.Helper()
	u := &models.User{
		ExternalID:    "ext-" + uuid.NewString(),
		Name:          name,
		ReferralCode:  strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		CreditBalance: balance,
	}
	if referredBy != nil {
		u.ReferredByUserID = &referredBy.ID
	}
	require.NoError(t, h.conn.Create(u).Error)
	if referredBy != nil {
		require.NoError(t, h.conn.Create(&models.Referral{ReferrerID: referredBy.ID, ReferredUserID: u.ID, Status: enums.ReferralPending}).Error)
	}
	return u
}

func (h *harness) product(t *testing.T, price string) *models.Product {
	t.Helper()
	p := &models.Product{
		Slug:     "p-" + uuid.NewString(),
		Title:    "Clean Code",
		Category: enums.ProductCategoryEbook,
		Price:    decimal.RequireFromString(price),
	}
	require.NoError(t, h.conn.Create(p).Error)
	return p
}

func (h *harness) reload(t *testing.T, u *models.User) *models.User {
	t.Helper()
	var fresh models.User
	require.NoError(t, h.conn.First(&fresh, "id = ?", u.ID).Error)
	return &fresh
}

func (h *harness) referral(t *testing.T, referred *models.User) *models.Referral {
	t.Helper()
	var row models.Referral
	require.NoError(t, h.conn.First(&row, "referred_user_id = ?", referred.ID).Error)
	return &row
}

func (h *harness) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func input(u *models.User, p *models.Product, credits int) SettleInput {
	credit := CreditAmountFor(credits)
	return SettleInput{
		UserID:       u.ID,
		ProductID:    p.ID,
		ProductName:  p.Title,
		Amount:       p.Price,
		CreditsUsed:  credits,
		CreditAmount: credit,
		CashAmount:   p.Price.Sub(credit),
	}
}
