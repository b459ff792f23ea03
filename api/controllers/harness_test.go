package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creditshare-backend/api/middleware"
	"github.com/angelmondragon/creditshare-backend/internal/identity"
	"github.com/angelmondragon/creditshare-backend/internal/products"
	"github.com/angelmondragon/creditshare-backend/internal/purchases"
	"github.com/angelmondragon/creditshare-backend/internal/referrals"
	"github.com/angelmondragon/creditshare-backend/internal/settlement"
	"github.com/angelmondragon/creditshare-backend/internal/users"
	"github.com/angelmondragon/creditshare-backend/pkg/db/dbtest"
	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
	"github.com/angelmondragon/creditshare-backend/pkg/outbox"
	"github.com/angelmondragon/creditshare-backend/pkg/types"
)

type app struct {
	users      *users.Repository
	productsDB *products.Repository
	identity   identity.Service
	products   products.Service
	settlement *settlement.Service
	purchases  purchases.Service
	referrals  referrals.Service
	logg       *logger.Logger
}

func newApp(t *testing.T) *app {
	t.Helper()
	client := dbtest.Open(t)
	conn := client.DB()
	logg := logger.Nop()

	userRepo := users.NewRepository(conn)
	referralRepo := referrals.NewRepository(conn)
	purchaseRepo := purchases.NewRepository(conn)
	productRepo := products.NewRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	identitySvc, err := identity.NewService(identity.ServiceParams{
		Tx: client, Users: userRepo, Referrals: referralRepo, Outbox: emitter, Logger: logg,
	})
	require.NoError(t, err)
	productSvc, err := products.NewService(productRepo, logg)
	require.NoError(t, err)
	settleSvc, err := settlement.NewService(settlement.ServiceParams{
		Tx: client, Users: userRepo, Referrals: referralRepo, Purchases: purchaseRepo,
		Products: productRepo, Outbox: emitter, Logger: logg,
	})
	require.NoError(t, err)
	purchaseSvc, err := purchases.NewService(purchaseRepo)
	require.NoError(t, err)
	referralSvc, err := referrals.NewService(referralRepo, userRepo, "https://creditshare.example.com")
	require.NoError(t, err)

	catalog, err := products.LoadCatalog(products.DefaultCatalog())
	require.NoError(t, err)
	_, err = productSvc.Seed(context.Background(), catalog)
	require.NoError(t, err)

	return &app{
		users:      userRepo,
		productsDB: productRepo,
		identity:   identitySvc,
		products:   productSvc,
		settlement: settleSvc,
		purchases:  purchaseSvc,
		referrals:  referralSvc,
		logg:       logg,
	}
}

func (a *app) product(t *testing.T, slug string) *models.Product {
	t.Helper()
	p, err := a.productsDB.FindBySlug(context.Background(), slug)
	require.NoError(t, err)
	return p
}

// sync registers externalID through the handler and returns the stored user.
func (a *app) sync(t *testing.T, externalID, referralCode string) *models.User {
	t.Helper()
	body := map[string]string{"name": externalID}
	if referralCode != "" {
		body["referral_code"] = referralCode
	}
	rec := serve(AuthSync(a.identity, a.logg), http.MethodPost, "/api/v1/auth/sync", externalID, body, nil)
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, rec.Code, rec.Body.String())
	user, err := a.users.FindByExternalID(context.Background(), externalID)
	require.NoError(t, err)
	return user
}

func serve(h http.Handler, method, target, externalID string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if externalID != "" {
		req = req.WithContext(middleware.WithIdentity(req.Context(), middleware.Identity{
			ExternalID: externalID,
			Email:      externalID + "@example.com",
		}))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dest))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.APIError {
	t.Helper()
	var env types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error
}

func escape(cursor string) string {
	return url.QueryEscape(cursor)
}
