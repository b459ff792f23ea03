package controllers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creditshare-backend/api/middleware"
	"github.com/angelmondragon/creditshare-backend/internal/identity"
	"github.com/angelmondragon/creditshare-backend/internal/products"
	"github.com/angelmondragon/creditshare-backend/internal/purchases"
	"github.com/angelmondragon/creditshare-backend/internal/referrals"
	"github.com/angelmondragon/creditshare-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
	"github.com/angelmondragon/creditshare-backend/pkg/pagination"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	rec := serve(HealthLive(cfg), http.MethodGet, "/health/live", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get(envHeader))

	ok := pingFunc(func(context.Context) error { return nil })
	rec = serve(HealthReady(cfg, logger.Nop(), map[string]Pinger{"db": ok, "redis": ok}), http.MethodGet, "/health/ready", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
	rec = serve(HealthReady(cfg, logger.Nop(), map[string]Pinger{"db": ok, "redis": down}), http.MethodGet, "/health/ready", "", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeDependency), decodeError(t, rec).Code)
}

func TestAuthSync(t *testing.T) {
	a := newApp(t)
	handler := AuthSync(a.identity, a.logg)

	rec := serve(handler, http.MethodPost, "/api/v1/auth/sync", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(handler, http.MethodPost, "/api/v1/auth/sync", "referrer", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created identity.SyncResult
	decodeData(t, rec, &created)
	assert.True(t, created.Created)
	assert.Equal(t, "referrer@example.com", created.User.Email, "profile falls back to token claims")

	rec = serve(handler, http.MethodPost, "/api/v1/auth/sync", "referrer", map[string]string{"name": "Renamed"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var again identity.SyncResult
	decodeData(t, rec, &again)
	assert.False(t, again.Created)
	assert.Equal(t, created.User.ID, again.User.ID)

	rec = serve(handler, http.MethodPost, "/api/v1/auth/sync", "friend", map[string]string{"referral_code": "no!"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(handler, http.MethodPost, "/api/v1/auth/sync", "friend", map[string]string{"referral_code": created.User.ReferralCode}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var referred identity.SyncResult
	decodeData(t, rec, &referred)
	assert.True(t, referred.Referred)
	require.NotNil(t, referred.User.ReferredByUserID)
	assert.Equal(t, created.User.ID, *referred.User.ReferredByUserID)
}

func TestListProducts(t *testing.T) {
	a := newApp(t)
	handler := ListProducts(a.products, a.logg)

	rec := serve(handler, http.MethodGet, "/api/v1/products?limit=2", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page pagination.Page[products.ProductDTO]
	decodeData(t, rec, &page)
	assert.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)

	rec = serve(handler, http.MethodGet, "/api/v1/products?category=ebook", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &page)
	for _, item := range page.Items {
		assert.Equal(t, "ebook", string(item.Category))
	}

	rec = serve(handler, http.MethodGet, "/api/v1/products?category=hardware", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(handler, http.MethodGet, "/api/v1/products?limit=0", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePurchaseReferralFlow(t *testing.T) {
	a := newApp(t)
	referrer := a.sync(t, "referrer", "")
	friend := a.sync(t, "friend", referrer.ReferralCode)
	book := a.product(t, "clean-code")
	handler := CreatePurchase(a.settlement, a.users, a.logg)

	rec := serve(handler, http.MethodPost, "/api/v1/purchases", "friend", map[string]any{"product_id": book.ID}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first purchaseResponse
	decodeData(t, rec, &first)
	assert.True(t, first.IsFirstPurchase)
	assert.Equal(t, 2, first.CreditsAwarded.Referrer)
	assert.Equal(t, 2, first.CreditsAwarded.User)
	assert.Equal(t, 0, first.Purchase.CreditsUsed)
	assert.True(t, first.Purchase.CashAmount.Equal(book.Price))

	key := map[string]string{middleware.IdempotencyHeader: "order-2"}
	rec = serve(handler, http.MethodPost, "/api/v1/purchases", "friend", map[string]any{"product_id": book.ID}, key)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var second purchaseResponse
	decodeData(t, rec, &second)
	assert.False(t, second.IsFirstPurchase)
	assert.Equal(t, 2, second.Purchase.CreditsUsed)
	assert.True(t, second.Purchase.CreditAmount.Equal(decimal.NewFromInt(20)))
	assert.True(t, second.Purchase.CreditAmount.Add(second.Purchase.CashAmount).Equal(book.Price))

	rec = serve(handler, http.MethodPost, "/api/v1/purchases", "friend", map[string]any{"product_id": book.ID}, key)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var replay purchaseResponse
	decodeData(t, rec, &replay)
	assert.True(t, replay.Replayed)
	assert.Equal(t, second.Purchase.ID, replay.Purchase.ID)

	stored, err := a.users.FindByID(context.Background(), friend.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CreditBalance)
	assert.Equal(t, 2, stored.TotalCreditsEarned)
}

func TestCreatePurchaseRejections(t *testing.T) {
	a := newApp(t)
	a.sync(t, "buyer", "")
	book := a.product(t, "clean-code")
	handler := CreatePurchase(a.settlement, a.users, a.logg)

	rec := serve(handler, http.MethodPost, "/api/v1/purchases", "stranger", map[string]any{"product_id": book.ID}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(handler, http.MethodPost, "/api/v1/purchases", "buyer", map[string]any{"product_id": "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(handler, http.MethodPost, "/api/v1/purchases", "buyer", map[string]any{"product_id": uuid.New()}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(handler, http.MethodPost, "/api/v1/purchases", "buyer", map[string]any{"product_id": book.ID, "credits_to_use": 1}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeInsufficientCredits), decodeError(t, rec).Code)
}

func TestListPurchases(t *testing.T) {
	a := newApp(t)
	a.sync(t, "buyer", "")
	create := CreatePurchase(a.settlement, a.users, a.logg)
	for _, slug := range []string{"clean-code", "the-pragmatic-programmer", "refactoring-improving-the-design-of-existing-code"} {
		rec := serve(create, http.MethodPost, "/api/v1/purchases", "buyer", map[string]any{"product_id": a.product(t, slug).ID}, nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	list := ListPurchases(a.purchases, a.users, a.logg)
	rec := serve(list, http.MethodGet, "/api/v1/purchases?limit=2", "buyer", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page pagination.Page[purchases.PurchaseDTO]
	decodeData(t, rec, &page)
	assert.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	rec = serve(list, http.MethodGet, "/api/v1/purchases?limit=2&cursor="+escape(page.NextCursor), "buyer", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rest pagination.Page[purchases.PurchaseDTO]
	decodeData(t, rec, &rest)
	assert.Len(t, rest.Items, 1)
	assert.Empty(t, rest.NextCursor)

	rec = serve(list, http.MethodGet, "/api/v1/purchases", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDashboardAndReferralStats(t *testing.T) {
	a := newApp(t)
	referrer := a.sync(t, "referrer", "")
	a.sync(t, "friend-a", referrer.ReferralCode)
	a.sync(t, "friend-b", referrer.ReferralCode)

	rec := serve(CreatePurchase(a.settlement, a.users, a.logg), http.MethodPost, "/api/v1/purchases", "friend-a",
		map[string]any{"product_id": a.product(t, "clean-code").ID}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(Dashboard(a.referrals, a.users, a.logg), http.MethodGet, "/api/v1/users/dashboard", "referrer", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dash referrals.Dashboard
	decodeData(t, rec, &dash)
	assert.Equal(t, referrer.ReferralCode, dash.ReferralCode)
	assert.Equal(t, "https://creditshare.example.com/register?r="+referrer.ReferralCode, dash.ReferralLink)
	assert.Equal(t, 2, dash.CreditBalance)
	assert.EqualValues(t, 2, dash.TotalReferred)
	assert.EqualValues(t, 1, dash.ConvertedUsers)

	stats := ReferralStats(a.referrals, a.users, a.logg)
	rec = serve(stats, http.MethodGet, "/api/v1/referrals/stats", "referrer", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary referrals.ReferralStats
	decodeData(t, rec, &summary)
	assert.EqualValues(t, 2, summary.TotalReferred)
	assert.Nil(t, summary.Users)

	rec = serve(stats, http.MethodGet, "/api/v1/referrals/stats?include_users=true&limit=1", "referrer", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detailed referrals.ReferralStats
	decodeData(t, rec, &detailed)
	require.NotNil(t, detailed.Users)
	assert.Len(t, detailed.Users.Items, 1)
	assert.NotEmpty(t, detailed.Users.NextCursor)

	rec = serve(stats, http.MethodGet, "/api/v1/referrals/stats?include_users=perhaps", "referrer", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
