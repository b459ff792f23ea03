package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditshare-backend/internal/products"
	"github.com/angelmondragon/creditshare-backend/internal/purchases"
	"github.com/angelmondragon/creditshare-backend/internal/referrals"
	"github.com/angelmondragon/creditshare-backend/internal/users"
	"github.com/angelmondragon/creditshare-backend/pkg/db"
	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
	"github.com/angelmondragon/creditshare-backend/pkg/metrics"
	"github.com/angelmondragon/creditshare-backend/pkg/outbox"
	"github.com/angelmondragon/creditshare-backend/pkg/outbox/payloads"
)

const defaultTimeout = 10 * time.Second

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SettleInput is a fully quoted purchase request.
type SettleInput struct {
	UserID         uuid.UUID
	ProductID      uuid.UUID
	ProductName    string
	Amount         decimal.Decimal
	CreditsUsed    int
	CreditAmount   decimal.Decimal
	CashAmount     decimal.Decimal
	IdempotencyKey string

	// quoted marks input built by Purchase. A replay then matches on the
	// product, and on credits only when the caller chose them.
	quoted          bool
	explicitCredits bool
}

// CreditsAwarded reports the referral bonus granted by this settlement.
type CreditsAwarded struct {
	Referrer int `json:"referrer"`
	User     int `json:"user"`
}

// SettleResult is the committed (or replayed) outcome of a settlement.
type SettleResult struct {
	Purchase        models.Purchase
	IsFirstPurchase bool
	CreditsAwarded  CreditsAwarded
	Replayed        bool
}

// PurchaseRequest is an unquoted purchase; CreditsToUse nil spends as many
// credits as the balance and price allow.
type PurchaseRequest struct {
	UserID         uuid.UUID
	ProductID      uuid.UUID
	CreditsToUse   *int
	IdempotencyKey string
}

// ServiceParams bundles the dependencies of the settlement engine.
type ServiceParams struct {
	Tx        txRunner
	Users     *users.Repository
	Referrals *referrals.Repository
	Purchases *purchases.Repository
	Products  *products.Repository
	Outbox    outbox.Emitter
	Metrics   *metrics.SettlementMetrics
	Logger    *logger.Logger
	Timeout   time.Duration
}

// Service settles purchases: debit, ledger write and first-purchase referral
// conversion happen in one transaction or not at all.
type Service struct {
	tx        txRunner
	users     *users.Repository
	referrals *referrals.Repository
	purchases *purchases.Repository
	products  *products.Repository
	outbox    outbox.Emitter
	metrics   *metrics.SettlementMetrics
	logg      *logger.Logger
	timeout   time.Duration
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user repository required")
	}
	if params.Referrals == nil {
		return nil, fmt.Errorf("referral repository required")
	}
	if params.Purchases == nil {
		return nil, fmt.Errorf("purchase repository required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{
		tx:        params.Tx,
		users:     params.Users,
		referrals: params.Referrals,
		purchases: params.Purchases,
		products:  params.Products,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		logg:      params.Logger,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Purchase quotes the split from the stored price and balance, then settles it.
// A known idempotency key replays the stored purchase without re-quoting.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*SettleResult, error) {
	started := time.Now()
	product, err := s.products.FindByID(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, productNotFound()
		}
		return nil, persistence(err, "load product")
	}
	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, userNotFound()
		}
		return nil, persistence(err, "load user")
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		// The balance may already reflect the original purchase, so a retry
		// must not be re-quoted.
		existing, err := s.purchases.FindByIdempotencyKey(ctx, user.ID, key)
		switch {
		case err == nil:
			if existing.ProductID != product.ID || (req.CreditsToUse != nil && *req.CreditsToUse != existing.CreditsUsed) {
				return nil, keyReused(existing)
			}
			s.metrics.Observe(metrics.OutcomeReplayed, time.Since(started))
			s.logg.Info(s.logg.WithPurchaseID(ctx, existing.ID.String()), "settlement.replayed")
			return replayOf(existing), nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, persistence(err, "lookup idempotency key")
		}
	}

	split := QuoteSplit(product.Price, user.CreditBalance)
	if req.CreditsToUse != nil {
		requested := *req.CreditsToUse
		if requested < 0 {
			return nil, invalid("credits_to_use", "must not be negative")
		}
		if requested > QuoteSplit(product.Price, requested).CreditsUsed {
			return nil, invalid("credits_to_use", "exceeds the product price")
		}
		creditAmount := CreditAmountFor(requested)
		split = Split{
			Amount:       split.Amount,
			CreditsUsed:  requested,
			CreditAmount: creditAmount,
			CashAmount:   split.Amount.Sub(creditAmount),
		}
	}

	return s.Settle(ctx, SettleInput{
		UserID:          user.ID,
		ProductID:       product.ID,
		ProductName:     product.Title,
		Amount:          split.Amount,
		CreditsUsed:     split.CreditsUsed,
		CreditAmount:    split.CreditAmount,
		CashAmount:      split.CashAmount,
		IdempotencyKey:  key,
		quoted:          true,
		explicitCredits: req.CreditsToUse != nil,
	})
}

// Settle applies a quoted purchase atomically. A repeated idempotency key
// replays the stored purchase without touching balances.
func (s *Service) Settle(ctx context.Context, in SettleInput) (*SettleResult, error) {
	started := time.Now()
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":      in.UserID.String(),
		"product_id":   in.ProductID.String(),
		"credits_used": in.CreditsUsed,
	})

	if err := in.validate(); err != nil {
		s.metrics.Observe(metrics.OutcomeInvalid, time.Since(started))
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var result *SettleResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		r, err := s.settleTx(ctx, tx, in)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil && in.IdempotencyKey != "" && isReplayCandidate(err) {
		// A concurrent request with the same key committed first.
		if replayed, rerr := s.replay(ctx, s.purchases, in); rerr == nil && replayed != nil {
			result, err = replayed, nil
		} else if rerr != nil {
			err = rerr
		}
	}
	if err != nil {
		err = s.classify(ctx, err)
		s.metrics.Observe(outcomeFor(err), time.Since(started))
		return nil, err
	}

	logCtx := s.logg.WithPurchaseID(ctx, result.Purchase.ID.String())
	if result.Replayed {
		s.metrics.Observe(metrics.OutcomeReplayed, time.Since(started))
		s.logg.Info(logCtx, "settlement.replayed")
		return result, nil
	}
	s.metrics.Observe(metrics.OutcomeSettled, time.Since(started))
	if result.Purchase.ReferralCreditAwarded {
		s.metrics.IncConversion()
		s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
			"referrer_credits": result.CreditsAwarded.Referrer,
			"user_credits":     result.CreditsAwarded.User,
		}), "referral.converted")
	}
	s.logg.Info(s.logg.WithField(logCtx, "is_first_purchase", result.IsFirstPurchase), "settlement.committed")
	return result, nil
}

func (s *Service) settleTx(ctx context.Context, tx *gorm.DB, in SettleInput) (*SettleResult, error) {
	userRepo := s.users.WithTx(tx)
	purchaseRepo := s.purchases.WithTx(tx)

	if in.IdempotencyKey != "" {
		replayed, err := s.replay(ctx, purchaseRepo, in)
		if err != nil || replayed != nil {
			return replayed, err
		}
	}

	debited, err := userRepo.DebitCredits(ctx, in.UserID, in.CreditsUsed)
	if err != nil {
		return nil, persistence(err, "debit credits")
	}
	if !debited {
		exists, err := userRepo.Exists(ctx, in.UserID)
		if err != nil {
			return nil, persistence(err, "check user")
		}
		if !exists {
			return nil, userNotFound()
		}
		return nil, insufficientCredits(in.CreditsUsed)
	}
	if in.CashAmount.IsNegative() {
		return nil, invalid("cash_amount", "must not be negative")
	}

	user, err := userRepo.FindByID(ctx, in.UserID)
	if err != nil {
		return nil, persistence(err, "load user")
	}

	prior, err := purchaseRepo.CountByUser(ctx, in.UserID)
	if err != nil {
		return nil, persistence(err, "count purchases")
	}
	isFirst := prior == 0

	product, err := s.products.WithTx(tx).FindByID(ctx, in.ProductID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, productNotFound()
		}
		return nil, persistence(err, "load product")
	}

	name := strings.TrimSpace(in.ProductName)
	if name == "" {
		name = product.Title
	}
	purchase := models.Purchase{
		UserID:          in.UserID,
		ProductID:       product.ID,
		ProductName:     name,
		Amount:          in.Amount,
		CreditsUsed:     in.CreditsUsed,
		CreditAmount:    in.CreditAmount,
		CashAmount:      in.CashAmount,
		IsFirstPurchase: isFirst,
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		purchase.IdempotencyKey = &key
	}
	if err := purchaseRepo.Create(ctx, &purchase); err != nil {
		return nil, persistence(err, "create purchase")
	}

	result := &SettleResult{Purchase: purchase, IsFirstPurchase: isFirst}
	if isFirst && user.ReferredByUserID != nil {
		if err := s.convertReferral(ctx, tx, user, result); err != nil {
			return nil, err
		}
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPurchaseSettled,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   result.Purchase.ID,
		Actor:         &outbox.ActorRef{UserID: user.ID, ExternalID: user.ExternalID},
		Data: payloads.PurchaseSettledEvent{
			PurchaseID:            result.Purchase.ID,
			UserID:                user.ID,
			ProductID:             product.ID,
			Amount:                result.Purchase.Amount,
			CreditsUsed:           result.Purchase.CreditsUsed,
			CreditAmount:          result.Purchase.CreditAmount,
			CashAmount:            result.Purchase.CashAmount,
			IsFirstPurchase:       isFirst,
			ReferralCreditAwarded: result.Purchase.ReferralCreditAwarded,
		},
	}); err != nil {
		return nil, persistence(err, "emit purchase_settled")
	}
	return result, nil
}

func (s *Service) convertReferral(ctx context.Context, tx *gorm.DB, user *models.User, result *SettleResult) error {
	now := s.now()
	referral, converted, err := s.referrals.WithTx(tx).ConvertPending(ctx, user.ID, now)
	if err != nil {
		return persistence(err, "convert referral")
	}
	if !converted {
		return nil
	}

	userRepo := s.users.WithTx(tx)
	awarded := CreditsAwarded{}
	switch err := userRepo.AwardCredits(ctx, referral.ReferrerID, ReferralCredits); {
	case err == nil:
		awarded.Referrer = ReferralCredits
	case errors.Is(err, gorm.ErrRecordNotFound):
		s.logg.Warn(s.logg.WithField(ctx, "referrer_id", referral.ReferrerID.String()), "referrer missing; awarding referred user only")
	default:
		return persistence(err, "award referrer")
	}
	if err := userRepo.AwardCredits(ctx, user.ID, ReferralCredits); err != nil {
		return persistence(err, "award user")
	}
	awarded.User = ReferralCredits

	marked, err := s.purchases.WithTx(tx).MarkReferralAwarded(ctx, result.Purchase.ID)
	if err != nil {
		return persistence(err, "mark purchase awarded")
	}
	if !marked {
		return persistence(fmt.Errorf("purchase %s already marked", result.Purchase.ID), "mark purchase awarded")
	}
	result.Purchase.ReferralCreditAwarded = true
	result.CreditsAwarded = awarded

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReferralConverted,
		AggregateType: enums.AggregateReferral,
		AggregateID:   referral.ID,
		Actor:         &outbox.ActorRef{UserID: user.ID, ExternalID: user.ExternalID},
		Data: payloads.ReferralConvertedEvent{
			ReferralID:      referral.ID,
			ReferrerID:      referral.ReferrerID,
			ReferredUserID:  user.ID,
			PurchaseID:      result.Purchase.ID,
			ReferrerCredits: awarded.Referrer,
			UserCredits:     awarded.User,
			ConvertedAt:     now,
		},
	}); err != nil {
		return persistence(err, "emit referral_converted")
	}
	return nil
}

// replay returns the purchase stored under the key, nil when there is none.
func (s *Service) replay(ctx context.Context, repo *purchases.Repository, in SettleInput) (*SettleResult, error) {
	existing, err := repo.FindByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, persistence(err, "lookup idempotency key")
	}
	if !in.matches(existing) {
		return nil, keyReused(existing)
	}
	return replayOf(existing), nil
}

func (in SettleInput) matches(p *models.Purchase) bool {
	switch {
	case p.ProductID != in.ProductID:
		return false
	case in.quoted && !in.explicitCredits:
		return true
	case in.quoted:
		return p.CreditsUsed == in.CreditsUsed
	}
	return p.CreditsUsed == in.CreditsUsed && p.Amount.Equal(in.Amount)
}

func replayOf(p *models.Purchase) *SettleResult {
	result := &SettleResult{Purchase: *p, IsFirstPurchase: p.IsFirstPurchase, Replayed: true}
	if p.ReferralCreditAwarded {
		result.CreditsAwarded = CreditsAwarded{Referrer: ReferralCredits, User: ReferralCredits}
	}
	return result
}

func keyReused(p *models.Purchase) error {
	return pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different purchase").
		WithDetails(map[string]any{"purchase_id": p.ID})
}

// classify keeps typed errors and turns anything else into a persistence failure.
func (s *Service) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && pkgerrors.As(err) == nil {
		err = persistence(ctxErr, "settlement aborted")
	}
	if pkgerrors.As(err) == nil {
		err = persistence(err, "settle purchase")
	}
	if code := pkgerrors.CodeOf(err); code == pkgerrors.CodePersistence {
		s.logg.Error(ctx, "settlement failed", err)
	} else {
		s.logg.Warn(s.logg.WithField(ctx, "code", string(code)), "settlement rejected")
	}
	return err
}

func isReplayCandidate(err error) bool {
	return errors.Is(err, ErrInsufficientCredits) || db.IsUniqueViolation(err, "idempotency_key")
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientCredits):
		return metrics.OutcomeInsufficientCredits
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrProductNotFound):
		return metrics.OutcomeNotFound
	case pkgerrors.CodeOf(err) == pkgerrors.CodeValidation, pkgerrors.CodeOf(err) == pkgerrors.CodeIdempotency:
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeFailed
	}
}

func (in SettleInput) validate() error {
	switch {
	case in.UserID == uuid.Nil:
		return invalid("user_id", "is required")
	case in.ProductID == uuid.Nil:
		return invalid("product_id", "is required")
	case !in.Amount.IsPositive():
		return invalid("amount", "must be greater than 0")
	case !in.Amount.Equal(in.Amount.Round(2)):
		return invalid("amount", "must have at most two decimal places")
	case in.CreditsUsed < 0:
		return invalid("credits_used", "must not be negative")
	case !in.CreditAmount.Equal(CreditAmountFor(in.CreditsUsed)):
		return invalid("credit_amount", fmt.Sprintf("must equal credits_used x %d", CreditValue))
	case !in.CashAmount.Equal(in.Amount.Sub(in.CreditAmount)):
		return invalid("cash_amount", "must equal amount minus credit_amount")
	case len(in.IdempotencyKey) > 255:
		return invalid("idempotency_key", "must be at most 255 characters")
	}
	return nil
}
