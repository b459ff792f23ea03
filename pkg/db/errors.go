package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation on
// postgres (pgx or lib/pq) or sqlite. When hints are given, the violated
// constraint or column must mention one of them.
func IsUniqueViolation(err error, hints ...string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return matchesHint(err.Error(), hints)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return matchesHint(pgErr.ConstraintName+" "+pgErr.Message+" "+pgErr.Detail, hints)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return matchesHint(pqErr.Constraint+" "+pqErr.Message+" "+pqErr.Detail, hints)
	}

	msg := err.Error()
	if strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed") {
		return matchesHint(msg, hints)
	}
	return false
}

func matchesHint(text string, hints []string) bool {
	if len(hints) == 0 {
		return true
	}
	for _, hint := range hints {
		if hint != "" && strings.Contains(text, hint) {
			return true
		}
	}
	return false
}
