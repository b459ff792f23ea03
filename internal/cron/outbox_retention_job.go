package cron

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/creditshare-backend/pkg/logger"
)

const (
	OutboxRetentionJobName = "outbox-retention"

	defaultOutboxRetentionDays = 30
	// Unpublished rows past the cutoff are dropped once they burned this many attempts.
	defaultOutboxMinAttempts = 10
)

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Repository    outboxPruner
	DeadLetters   deadLetterPruner // optional
	RetentionDays int
	MinAttempts   int
}

// sweep deletes one table's expired rows inside the job's transaction.
type sweep struct {
	table string
	run   func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	retention int
	sweeps    []sweep
	now       func() time.Time
}

// NewOutboxRetentionJob prunes the outbox (and its dead-letter table when
// given) of rows older than the retention window.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}

	minAttempts := params.MinAttempts
	if minAttempts <= 0 {
		minAttempts = defaultOutboxMinAttempts
	}
	sweeps := []sweep{{
		table: "outbox_events",
		run: func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
			return params.Repository.DeletePublishedBefore(ctx, tx, cutoff, minAttempts)
		},
	}}
	if params.DeadLetters != nil {
		sweeps = append(sweeps, sweep{table: "outbox_dlq", run: params.DeadLetters.DeleteFailedBefore})
	}

	job := &outboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		retention: params.RetentionDays,
		sweeps:    sweeps,
		now:       time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetentionDays
	}
	return job, nil
}

func (j *outboxRetentionJob) Name() string { return OutboxRetentionJobName }

// Run executes every sweep in one transaction; a failing sweep rolls back the rest.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.retention)
	deleted := make(map[string]any, len(j.sweeps))

	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		for _, s := range j.sweeps {
			n, err := s.run(ctx, tx, cutoff)
			if err != nil {
				return errors.Join(errors.New("prune "+s.table), err)
			}
			deleted[s.table] = n
		}
		return nil
	})
	if err != nil {
		return err
	}

	fields := map[string]any{"cutoff": cutoff, "retention_days": j.retention}
	for table, n := range deleted {
		fields["deleted_"+table] = n
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "outbox retention sweep done")
	return nil
}
