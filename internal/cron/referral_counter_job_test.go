package cron

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditshare-backend/internal/referrals"
	"github.com/angelmondragon/creditshare-backend/internal/users"
	"github.com/angelmondragon/creditshare-backend/pkg/db/dbtest"
	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
)

func createUser(t *testing.T, conn *gorm.DB, referredUsers int) *models.User {
	t.Helper()
	user := &models.User{
		ExternalID:         "ext-" + uuid.NewString(),
		ReferralCode:       strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		TotalReferredUsers: referredUsers,
	}
	require.NoError(t, conn.Create(user).Error)
	return user
}

func storedCounter(t *testing.T, conn *gorm.DB, id uuid.UUID) int {
	t.Helper()
	var user models.User
	require.NoError(t, conn.First(&user, "id = ?", id).Error)
	return user.TotalReferredUsers
}

func TestReferralCounterJobRepairsDrift(t *testing.T) {
	conn := dbtest.Open(t).DB()
	refRepo := referrals.NewRepository(conn)
	ctx := context.Background()

	inflated := createUser(t, conn, 5)
	missing := createUser(t, conn, 0)
	accurate := createUser(t, conn, 1)
	for _, referrer := range []*models.User{inflated, missing, missing, accurate} {
		friend := createUser(t, conn, 0)
		_, err := refRepo.Create(ctx, referrer.ID, friend.ID)
		require.NoError(t, err)
	}

	job, err := NewReferralCounterJob(ReferralCounterJobParams{
		Logger:    logger.Nop(),
		Referrals: refRepo,
		Users:     users.NewRepository(conn),
	})
	require.NoError(t, err)
	assert.Equal(t, ReferralCounterJobName, job.Name())

	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 1, storedCounter(t, conn, inflated.ID))
	assert.Equal(t, 2, storedCounter(t, conn, missing.ID))
	assert.Equal(t, 1, storedCounter(t, conn, accurate.ID))

	drift, err := refRepo.ListCounterDrift(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

type staticDrift []referrals.CounterDrift

func (s staticDrift) ListCounterDrift(context.Context, int) ([]referrals.CounterDrift, error) {
	return s, nil
}

type scriptedWriter map[uuid.UUID]error

func (w scriptedWriter) SetReferredUsers(_ context.Context, id uuid.UUID, _, _ int) (bool, error) {
	err, ok := w[id]
	if !ok {
		return false, nil
	}
	return err == nil, err
}

func TestReferralCounterJobAggregatesFailures(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	writer := scriptedWriter{
		a: errors.New("deadlock"),
		b: nil,
		c: errors.New("timeout"),
	}
	job, err := NewReferralCounterJob(ReferralCounterJobParams{
		Logger:    logger.Nop(),
		Referrals: staticDrift{{UserID: a}, {UserID: b}, {UserID: c}, {UserID: d}},
		Users:     writer,
	})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(errors.Unwrap(err)), 2)
	assert.Contains(t, err.Error(), a.String())
	assert.Contains(t, err.Error(), c.String())
}
