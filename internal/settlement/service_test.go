package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creditshare-backend/pkg/db/dbtest"
	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
)

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.EqualError(t, err, "tx runner required")

	h := newHarness(t, dbtest.Open(t))
	svc, err := NewService(ServiceParams{
		Tx:        h.client,
		Users:     h.svc.users,
		Referrals: h.svc.referrals,
		Purchases: h.svc.purchases,
		Products:  h.svc.products,
		Outbox:    h.emit,
		Logger:    logger.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, svc.timeout)
}

func TestSettleReferredFirstPurchaseConvertsReferral(t *testing.T) {
	h := newHarness(t, dbtest.Open(t))
	ctx := context.Background()
	referrer := h.user(t, "Ana", 0, nil)
	buyer := h.user(t, "Ben", 0, referrer)
	product := h.product(t, "32.99")

	res, err := h.svc.Settle(ctx, input(buyer, product, 0))
	require.NoError(t, err)
	assert.True(t, res.IsFirstPurchase)
	assert.False(t, res.Replayed)
	assert.Equal(t, CreditsAwarded{Referrer: 2, User: 2}, res.CreditsAwarded)
	assert.True(t, res.Purchase.ReferralCreditAwarded)
	assert.True(t, res.Purchase.CashAmount.Equal(decimal.RequireFromString("32.99")))

	assert.Equal(t, 2, h.reload(t, referrer).CreditBalance)
	assert.Equal(t, 2, h.reload(t, referrer).TotalCreditsEarned)
	assert.Equal(t, 2, h.reload(t, buyer).CreditBalance)

	ref := h.referral(t, buyer)
	assert.Equal(t, enums.ReferralConverted, ref.Status)
	assert.True(t, ref.CreditsAwarded)
	assert.NotNil(t, ref.ConvertedAt)

	var stored models.Purchase
	require.NoError(t, h.conn.First(&stored, "id = ?", res.Purchase.ID).Error)
	assert.True(t, stored.ReferralCreditAwarded)
	assert.True(t, stored.IsFirstPurchase)

	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPurchaseSettled))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ? AND aggregate_id = ?", enums.EventReferralConverted, ref.ID))
}

func TestSettleSecondPurchaseSpendsCreditsWithoutAward(t *testing.T) {
	h := newHarness(t, dbtest.Open(t))
	ctx := context.Background()
	referrer := h.user(t, "Ana", 0, nil)
	buyer := h.user(t, "Ben", 0, referrer)
	product := h.product(t, "32.99")

	_, err := h.svc.Settle(ctx, input(buyer, product, 0))
	require.NoError(t, err)

	res, err := h.svc.Settle(ctx, input(buyer, product, 2))
	require.NoError(t, err)
	assert.False(t, res.IsFirstPurchase)
	assert.Equal(t, CreditsAwarded{}, res.CreditsAwarded)
	assert.False(t, res.Purchase.ReferralCreditAwarded)
	assert.Equal(t, "20.00", res.Purchase.CreditAmount.StringFixed(2))
	assert.Equal(t, "12.99", res.Purchase.CashAmount.StringFixed(2))

	fresh := h.reload(t, buyer)
	assert.Equal(t, 0, fresh.CreditBalance)
	assert.Equal(t, 2, fresh.TotalCreditsEarned, "spending never lowers lifetime earnings")
	assert.Equal(t, 2, h.reload(t, referrer).CreditBalance, "referrer is paid once")
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventReferralConverted))
}

func TestSettleUnreferredFirstPurchase(t *testing.T) {
	h := newHarness(t, dbtest.Open(t))
	buyer := h.user(t, "Solo", 5, nil)
	product := h.product(t, "59.99")

	res, err := h.svc.Settle(context.Background(), input(buyer, product, 5))
	require.NoError(t, err)
	assert.True(t, res.IsFirstPurchase)
	assert.Equal(t, CreditsAwarded{}, res.CreditsAwarded)
	assert.Equal(t, "9.99", res.Purchase.CashAmount.StringFixed(2))
	assert.Equal(t, 0, h.reload(t, buyer).CreditBalance)
}

func TestSettleHybridFirstPurchaseSpendsThenAwards(t *testing.T) {
	h := newHarness(t, dbtest.Open(t))
	referrer := h.user(t, "Ana", 0, nil)
	buyer := h.user(t, "Ben", 5, referrer)
	product := h.product(t, "75.00")

	res, err := h.svc.Settle(context.Background(), input(buyer, product, 5))
	require.NoError(t, err)
	assert.Equal(t, "50.00", res.Purchase.CreditAmount.StringFixed(2))
	assert.Equal(t, "25.00", res.Purchase.CashAmount.StringFixed(2))
	assert.Equal(t, CreditsAwarded{Referrer: 2, User: 2}, res.CreditsAwarded)
	assert.Equal(t, 2, h.reload(t, buyer).CreditBalance, "5 spent, 2 awarded")
	assert.Equal(t, 2, h.reload(t, referrer).CreditBalance)
}

func TestSettleInsufficientCreditsLeavesNoTrace(t *testing.T) {
	h := newHarness(t, dbtest.Open(t))
	buyer := h.user(t, "Low", 1, nil)
	product := h.product(t, "32.99")

	_, err := h.svc.Settle(context.Background(), input(buyer, product, 3))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, pkgerrors.CodeInsufficientCredits, pkgerrors.CodeOf(err))
	assert.False(t, pkgerrors.IsRetryable(err))

	assert.Equal(t, 1, h.reload(t, buyer).CreditBalance)
	assert.Zero(t, h.count(t, &models.Purchase{}, "user_id = ?", buyer.ID))
	assert.Zero(t, h.count(t, &models.OutboxEvent{}, "1 = 1"))
}

func TestSettleOverdrawnSplitReportsInsufficientCredits(t *testing.T) {
	h := newHarness(t, dbtest.Open(t))
	buyer := h.user(t, "Cy", 3, nil)
	product := h.product(t, "50.00")

	in := input(buyer, product, 10)
	require.True(t, in.CashAmount.IsNegative())
	_, err := h.svc.Settle(context.Background(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, pkgerrors.CodeInsufficientCredits, pkgerrors.CodeOf(err))
	assert.Equal(t, 3, h.reload(t, buyer).CreditBalance)
	assert.Zero(t, h.count(t, &models.Purchase{}, "user_id = ?", buyer.ID))
}

func TestSettleNotFound(t *testing.T) {
	h := newHarness(t, dbtest.Open(t))
	ctx := context.Background()
	buyer := h.user(t, "Ben", 3, nil)
	product := h.product(t, "32.99")

	ghost := &models.User{ID: uuid.New()}
	_, err := h.svc.Settle(ctx, input(ghost, product, 0))
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	missing := &models.Product{ID: uuid.New(), Price: product.Price}
	_, err = h.svc.Settle(ctx, input(buyer, missing, 2))
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.Equal(t, 3, h.reload(t, buyer).CreditBalance, "debit is rolled back")
}

func TestSettleRejectsInconsistentSplits(t *testing.T) {
	h := newHarness(t, dbtest.Open(t))
	buyer := h.user(t, "Ben", 10, nil)
	product := h.product(t, "32.99")
	base := input(buyer, product, 1)

	cases := map[string]func(in *SettleInput){
		"missing user":       func(in *SettleInput) { in.UserID = uuid.Nil },
		"missing product":    func(in *SettleInput) { in.ProductID = uuid.Nil },
		"zero amount":        func(in *SettleInput) { in.Amount = decimal.Zero },
		"sub-cent amount":    func(in *SettleInput) { in.Amount = decimal.RequireFromString("32.999") },
		"negative credits":   func(in *SettleInput) { in.CreditsUsed = -1 },
		"wrong credit value": func(in *SettleInput) { in.CreditAmount = decimal.NewFromInt(15) },
		"wrong cash":         func(in *SettleInput) { in.CashAmount = decimal.NewFromInt(1) },
		"negative cash": func(in *SettleInput) {
			in.CreditsUsed = 4
			in.CreditAmount = CreditAmountFor(4)
			in.CashAmount = in.Amount.Sub(in.CreditAmount)
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := base
			mutate(&in)
			_, err := h.svc.Settle(context.Background(), in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
		})
	}
	assert.Equal(t, 10, h.reload(t, buyer).CreditBalance)
}

func TestSettleFailureRollsBackEverything(t *testing.T) {
	h := newHarness(t, dbtest.Open(t))
	referrer := h.user(t, "Ana", 0, nil)
	buyer := h.user(t, "Ben", 1, referrer)
	product := h.product(t, "32.99")

	for _, failOn := range []enums.OutboxEventType{enums.EventReferralConverted, enums.EventPurchaseSettled} {
		svc := h.build(t, failingEmitter{next: h.emit, failOn: failOn})
		_, err := svc.Settle(context.Background(), input(buyer, product, 1))
		require.Error(t, err, failOn)
		assert.Equal(t, pkgerrors.CodePersistence, pkgerrors.CodeOf(err))
		assert.True(t, pkgerrors.IsRetryable(err))

		assert.Equal(t, 1, h.reload(t, buyer).CreditBalance)
		assert.Equal(t, 0, h.reload(t, referrer).CreditBalance)
		assert.Zero(t, h.count(t, &models.Purchase{}, "user_id = ?", buyer.ID))
		assert.Zero(t, h.count(t, &models.OutboxEvent{}, "1 = 1"))
		ref := h.referral(t, buyer)
		assert.Equal(t, enums.ReferralPending, ref.Status)
		assert.False(t, ref.CreditsAwarded)
	}

	res, err := h.svc.Settle(context.Background(), input(buyer, product, 1))
	require.NoError(t, err)
	assert.Equal(t, CreditsAwarded{Referrer: 2, User: 2}, res.CreditsAwarded, "a retry after rollback still converts")
}

func TestSettleCancelledContextNeverCommits(t *testing.T) {
	h := newHarness(t, dbtest.Open(t))
	buyer := h.user(t, "Ben", 2, nil)
	product := h.product(t, "32.99")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.svc.Settle(ctx, input(buyer, product, 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, pkgerrors.CodePersistence, pkgerrors.CodeOf(err))
	assert.Equal(t, 2, h.reload(t, buyer).CreditBalance)
	assert.Zero(t, h.count(t, &models.Purchase{}, "user_id = ?", buyer.ID))
}

func TestSettleTimeoutNeverCommits(t *testing.T) {
	h := newHarness(t, dbtest.Open(t))
	buyer := h.user(t, "Ben", 2, nil)
	product := h.product(t, "32.99")

	h.svc.timeout = time.Nanosecond
	_, err := h.svc.Settle(context.Background(), input(buyer, product, 2))
	require.Error(t, err)
	assert.Equal(t, 2, h.reload(t, buyer).CreditBalance)
	assert.Zero(t, h.count(t, &models.Purchase{}, "user_id = ?", buyer.ID))
}

func TestSettleIdempotentReplay(t *testing.T) {
	h := newHarness(t, dbtest.Open(t))
	ctx := context.Background()
	referrer := h.user(t, "Ana", 0, nil)
	buyer := h.user(t, "Ben", 3, referrer)
	product := h.product(t, "32.99")

	in := input(buyer, product, 3)
	in.IdempotencyKey = "order-123"
	first, err := h.svc.Settle(ctx, in)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	again, err := h.svc.Settle(ctx, in)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Purchase.ID, again.Purchase.ID)
	assert.Equal(t, first.CreditsAwarded, again.CreditsAwarded)

	assert.Equal(t, 2, h.reload(t, buyer).CreditBalance, "3 spent, 2 awarded, replay changes nothing")
	assert.Equal(t, int64(1), h.count(t, &models.Purchase{}, "user_id = ?", buyer.ID))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPurchaseSettled))

	other := input(buyer, product, 0)
	other.IdempotencyKey = "order-123"
	_, err = h.svc.Settle(ctx, other)
	assert.Equal(t, pkgerrors.CodeIdempotency, pkgerrors.CodeOf(err))
}

func TestSettleConcurrentDebitsNeverOverspend(t *testing.T) {
	h := newHarness(t, dbtest.OpenFile(t))
	buyer := h.user(t, "Racer", 3, nil)
	product := h.product(t, "10.00")

	const workers = 8
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Settle(context.Background(), input(buyer, product, 1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientCredits):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, successes)
	assert.Equal(t, workers-3, insufficient)
	assert.Equal(t, 0, h.reload(t, buyer).CreditBalance)
	assert.Equal(t, int64(3), h.count(t, &models.Purchase{}, "user_id = ?", buyer.ID))
	assert.Equal(t, int64(1), h.count(t, &models.Purchase{}, "user_id = ? AND is_first_purchase = ?", buyer.ID, true))
}

func TestSettleConcurrentFirstPurchasesConvertOnce(t *testing.T) {
	h := newHarness(t, dbtest.OpenFile(t))
	referrer := h.user(t, "Ana", 0, nil)
	buyer := h.user(t, "Ben", 0, referrer)
	product := h.product(t, "5.00")

	const workers = 6
	results := make([]*SettleResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.svc.Settle(context.Background(), input(buyer, product, 0))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	awarded := 0
	for _, res := range results {
		require.NotNil(t, res)
		if res.CreditsAwarded.Referrer > 0 {
			awarded++
			assert.Equal(t, CreditsAwarded{Referrer: 2, User: 2}, res.CreditsAwarded)
			continue
		}
		assert.Equal(t, CreditsAwarded{}, res.CreditsAwarded)
	}
	assert.Equal(t, 1, awarded, "exactly one call reports the award")

	assert.Equal(t, 2, h.reload(t, referrer).CreditBalance)
	assert.Equal(t, 2, h.reload(t, buyer).CreditBalance)
	assert.Equal(t, int64(1), h.count(t, &models.Purchase{}, "user_id = ? AND referral_credit_awarded = ?", buyer.ID, true))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventReferralConverted))
}

func TestSettleMissingReferrerStillRewardsUser(t *testing.T) {
	h := newHarness(t, dbtest.Open(t))
	referrer := h.user(t, "Gone", 0, nil)
	buyer := h.user(t, "Ben", 0, referrer)
	product := h.product(t, "5.00")
	require.NoError(t, h.conn.Delete(&models.User{}, "id = ?", referrer.ID).Error)

	res, err := h.svc.Settle(context.Background(), input(buyer, product, 0))
	require.NoError(t, err)
	assert.Equal(t, CreditsAwarded{Referrer: 0, User: 2}, res.CreditsAwarded)
	assert.Equal(t, 2, h.reload(t, buyer).CreditBalance)
}

func TestPurchaseQuotesFromBalance(t *testing.T) {
	h := newHarness(t, dbtest.Open(t))
	ctx := context.Background()
	buyer := h.user(t, "Ben", 7, nil)
	product := h.product(t, "36.99")

	res, err := h.svc.Purchase(ctx, PurchaseRequest{UserID: buyer.ID, ProductID: product.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Purchase.CreditsUsed)
	assert.Equal(t, "6.99", res.Purchase.CashAmount.StringFixed(2))
	assert.Equal(t, "Clean Code", res.Purchase.ProductName)
	assert.Equal(t, 4, h.reload(t, buyer).CreditBalance)

	one := 1
	res, err = h.svc.Purchase(ctx, PurchaseRequest{UserID: buyer.ID, ProductID: product.ID, CreditsToUse: &one})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Purchase.CreditsUsed)

	tooMany := 4
	_, err = h.svc.Purchase(ctx, PurchaseRequest{UserID: buyer.ID, ProductID: product.ID, CreditsToUse: &tooMany})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	three := 3
	_, err = h.svc.Purchase(ctx, PurchaseRequest{UserID: buyer.ID, ProductID: product.ID, CreditsToUse: &three})
	require.NoError(t, err)
	assert.Equal(t, 0, h.reload(t, buyer).CreditBalance)

	_, err = h.svc.Purchase(ctx, PurchaseRequest{UserID: buyer.ID, ProductID: product.ID, CreditsToUse: &one})
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	res, err = h.svc.Purchase(ctx, PurchaseRequest{UserID: buyer.ID, ProductID: product.ID})
	require.NoError(t, err)
	assert.Zero(t, res.Purchase.CreditsUsed, "an empty balance pays fully in cash")

	_, err = h.svc.Purchase(ctx, PurchaseRequest{UserID: uuid.New(), ProductID: product.ID})
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = h.svc.Purchase(ctx, PurchaseRequest{UserID: buyer.ID, ProductID: uuid.New()})
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestPurchaseRetryWithSameKeyReplays(t *testing.T) {
	h := newHarness(t, dbtest.Open(t))
	ctx := context.Background()
	referrer := h.user(t, "Ana", 0, nil)
	buyer := h.user(t, "Ben", 2, referrer)
	product := h.product(t, "32.99")
	req := PurchaseRequest{UserID: buyer.ID, ProductID: product.ID, IdempotencyKey: "k1"}

	first, err := h.svc.Purchase(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 2, first.Purchase.CreditsUsed)
	require.Equal(t, 2, h.reload(t, buyer).CreditBalance, "2 spent, 2 awarded")

	again, err := h.svc.Purchase(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Purchase.ID, again.Purchase.ID)
	assert.Equal(t, first.CreditsAwarded, again.CreditsAwarded)
	assert.Equal(t, 2, h.reload(t, buyer).CreditBalance)
	assert.Equal(t, int64(1), h.count(t, &models.Purchase{}, "user_id = ?", buyer.ID))

	two := 2
	explicit, err := h.svc.Purchase(ctx, PurchaseRequest{UserID: buyer.ID, ProductID: product.ID, CreditsToUse: &two, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.True(t, explicit.Replayed)

	zero := 0
	_, err = h.svc.Purchase(ctx, PurchaseRequest{UserID: buyer.ID, ProductID: product.ID, CreditsToUse: &zero, IdempotencyKey: "k1"})
	assert.Equal(t, pkgerrors.CodeIdempotency, pkgerrors.CodeOf(err))

	other := h.product(t, "9.99")
	_, err = h.svc.Purchase(ctx, PurchaseRequest{UserID: buyer.ID, ProductID: other.ID, IdempotencyKey: "k1"})
	assert.Equal(t, pkgerrors.CodeIdempotency, pkgerrors.CodeOf(err))
	assert.Equal(t, 2, h.reload(t, buyer).CreditBalance)
}
