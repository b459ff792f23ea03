package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/creditshare-backend/internal/referrals"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
)

const (
	ReferralCounterJobName = "referral-counter-reconcile"

	defaultReconcileBatch = 500
)

type driftLister interface {
	ListCounterDrift(ctx context.Context, limit int) ([]referrals.CounterDrift, error)
}

type referredCounterWriter interface {
	SetReferredUsers(ctx context.Context, id uuid.UUID, expected, actual int) (bool, error)
}

type ReferralCounterJobParams struct {
	Logger    *logger.Logger
	Referrals driftLister
	Users     referredCounterWriter
	BatchSize int
}

type referralCounterJob struct {
	logg      *logger.Logger
	referrals driftLister
	users     referredCounterWriter
	batch     int
}

// NewReferralCounterJob repairs users.total_referred_users from the referral ledger.
func NewReferralCounterJob(params ReferralCounterJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Referrals == nil {
		return nil, fmt.Errorf("referral repository required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user repository required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &referralCounterJob{
		logg:      params.Logger,
		referrals: params.Referrals,
		users:     params.Users,
		batch:     batch,
	}, nil
}

func (j *referralCounterJob) Name() string { return ReferralCounterJobName }

func (j *referralCounterJob) Run(ctx context.Context) error {
	drift, err := j.referrals.ListCounterDrift(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list counter drift: %w", err)
	}

	var (
		errs     error
		repaired int
		raced    int
	)
	for _, row := range drift {
		ok, err := j.users.SetReferredUsers(ctx, row.UserID, row.Stored, row.Actual)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("user %s: %w", row.UserID, err))
			continue
		}
		if !ok {
			// Counter moved since the scan; the next cycle sees the fresh value.
			raced++
			continue
		}
		repaired++
		j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
			"user_id": row.UserID.String(),
			"stored":  row.Stored,
			"actual":  row.Actual,
		}), "referral counter repaired")
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"drifted":  len(drift),
		"repaired": repaired,
		"raced":    raced,
		"failed":   len(multierr.Errors(errs)),
	}), "referral counter reconcile complete")

	if errs != nil {
		return fmt.Errorf("referral counter reconcile: %w", errs)
	}
	return nil
}
