package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditshare-backend/internal/referrals"
	"github.com/angelmondragon/creditshare-backend/internal/users"
	"github.com/angelmondragon/creditshare-backend/pkg/db"
	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
	"github.com/angelmondragon/creditshare-backend/pkg/outbox"
	"github.com/angelmondragon/creditshare-backend/pkg/outbox/payloads"
)

// MaxCodeAttempts bounds referral-code collision retries per sync.
const MaxCodeAttempts = 10

// ErrCodeGenerationExhausted means every attempt collided; the whole sync may be retried.
var ErrCodeGenerationExhausted = errors.New("referral code generation exhausted")

var errCodeCollision = errors.New("referral code collision")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SyncInput is the identity-provider profile of the caller.
type SyncInput struct {
	ExternalID   string
	Name         string
	Email        string
	ReferralCode string
}

type SyncResult struct {
	User     *users.UserDTO `json:"user"`
	Created  bool           `json:"created"`
	Referred bool           `json:"referred"`
}

// Service maps identity-provider subjects to local users.
type Service interface {
	Sync(ctx context.Context, input SyncInput) (*SyncResult, error)
}

// ServiceParams bundles the dependencies required to build an identity service.
type ServiceParams struct {
	Tx        txRunner
	Users     *users.Repository
	Referrals *referrals.Repository
	Outbox    outbox.Emitter
	Logger    *logger.Logger
	Codes     CodeGenerator
}

type service struct {
	tx        txRunner
	users     *users.Repository
	referrals *referrals.Repository
	outbox    outbox.Emitter
	logg      *logger.Logger
	codes     CodeGenerator
}

func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user repository required")
	}
	if params.Referrals == nil {
		return nil, fmt.Errorf("referral repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	codes := params.Codes
	if codes == nil {
		codes = NewReferralCode
	}
	return &service{
		tx:        params.Tx,
		users:     params.Users,
		referrals: params.Referrals,
		outbox:    params.Outbox,
		logg:      params.Logger,
		codes:     codes,
	}, nil
}

// Sync finds or creates the user for input.ExternalID. A referral code is
// honoured only when the user is created.
func (s *service) Sync(ctx context.Context, input SyncInput) (*SyncResult, error) {
	input.ExternalID = strings.TrimSpace(input.ExternalID)
	if input.ExternalID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external id is required")
	}
	ctx = s.logg.WithExternalID(ctx, input.ExternalID)

	existing, err := s.users.FindByExternalID(ctx, input.ExternalID)
	if err == nil {
		return &SyncResult{User: users.FromModel(existing)}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "lookup user")
	}

	referrer, err := s.resolveReferrer(ctx, input)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= MaxCodeAttempts; attempt++ {
		code, err := s.codes()
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate referral code")
		}

		created, err := s.create(ctx, input, strings.ToUpper(code), referrer)
		switch {
		case err == nil:
			s.logg.Info(s.logg.WithFields(s.logg.WithUserID(ctx, created.ID.String()), map[string]any{
				"attempt":  attempt,
				"referred": referrer != nil,
			}), "identity.synced")
			return &SyncResult{User: users.FromModel(created), Created: true, Referred: referrer != nil}, nil
		case errors.Is(err, errCodeCollision):
			s.logg.Debug(s.logg.WithField(ctx, "attempt", attempt), "referral code collision; retrying")
			continue
		case db.IsUniqueViolation(err, "external_id"):
			// A concurrent sync for the same subject won.
			stored, ferr := s.users.FindByExternalID(ctx, input.ExternalID)
			if ferr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, ferr, "reload user")
			}
			return &SyncResult{User: users.FromModel(stored)}, nil
		default:
			return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "create user")
		}
	}

	s.logg.Warn(s.logg.WithField(ctx, "attempts", MaxCodeAttempts), "referral code generation exhausted")
	return nil, pkgerrors.Wrap(pkgerrors.CodeCodeExhausted, ErrCodeGenerationExhausted, "could not allocate a referral code")
}

func (s *service) resolveReferrer(ctx context.Context, input SyncInput) (*models.User, error) {
	code := strings.TrimSpace(input.ReferralCode)
	if code == "" {
		return nil, nil
	}
	referrer, err := s.users.FindByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Info(s.logg.WithField(ctx, "referral_code", strings.ToUpper(code)), "unknown referral code ignored")
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "lookup referral code")
	}
	if referrer.ExternalID == input.ExternalID {
		s.logg.Warn(ctx, "self referral ignored")
		return nil, nil
	}
	return referrer, nil
}

func (s *service) create(ctx context.Context, input SyncInput, code string, referrer *models.User) (*models.User, error) {
	var created *models.User
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		userRepo := s.users.WithTx(tx)

		dto := users.CreateUserDTO{
			ExternalID:   input.ExternalID,
			Name:         strings.TrimSpace(input.Name),
			Email:        strings.TrimSpace(input.Email),
			ReferralCode: code,
		}
		if referrer != nil {
			dto.ReferredByUserID = &referrer.ID
		}
		user, err := userRepo.Create(ctx, dto)
		if err != nil {
			if db.IsUniqueViolation(err, "referral_code") {
				return errCodeCollision
			}
			return err
		}

		actor := &outbox.ActorRef{UserID: user.ID, ExternalID: user.ExternalID}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventUserSynced,
			AggregateType: enums.AggregateUser,
			AggregateID:   user.ID,
			Actor:         actor,
			Data: payloads.UserSyncedEvent{
				UserID:       user.ID,
				ExternalID:   user.ExternalID,
				ReferralCode: user.ReferralCode,
				ReferredBy:   user.ReferredByUserID,
			},
		}); err != nil {
			return err
		}

		if referrer != nil {
			if err := s.linkReferral(ctx, tx, referrer.ID, user.ID, actor); err != nil {
				return err
			}
		}
		created = user
		return nil
	})
	return created, err
}

func (s *service) linkReferral(ctx context.Context, tx *gorm.DB, referrerID, referredID uuid.UUID, actor *outbox.ActorRef) error {
	referral, err := s.referrals.WithTx(tx).Create(ctx, referrerID, referredID)
	if err != nil {
		return err
	}
	if err := s.users.WithTx(tx).IncrementReferredUsers(ctx, referrerID); err != nil {
		return err
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReferralCreated,
		AggregateType: enums.AggregateReferral,
		AggregateID:   referral.ID,
		Actor:         actor,
		Data: payloads.ReferralCreatedEvent{
			ReferralID:     referral.ID,
			ReferrerID:     referrerID,
			ReferredUserID: referredID,
		},
	})
}
