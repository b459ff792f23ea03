package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
	"github.com/angelmondragon/creditshare-backend/pkg/pagination"
)

// queryValue parses the trimmed query parameter key, returning fallback when
// it is absent. want names the expected shape in the validation message.
func queryValue[T any](r *http.Request, key string, fallback T, want string, parse func(string) (T, error)) (T, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := parse(raw)
	if err != nil {
		return fallback, pkgerrors.Newf(pkgerrors.CodeValidation, "%s must be %s", key, want).
			WithDetails(map[string]any{"field": key})
	}
	return v, nil
}

// ParseQueryInt reads an integer within [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	v, err := queryValue(r, key, defaultVal, "an integer", strconv.Atoi)
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, pkgerrors.Newf(pkgerrors.CodeValidation, "%s must be between %d and %d", key, min, max).
			WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return v, nil
}

// ParseQueryBool accepts the strconv.ParseBool spellings; absent means false.
func ParseQueryBool(r *http.Request, key string) (bool, error) {
	return queryValue(r, key, false, "a boolean", strconv.ParseBool)
}

// ParsePagination reads limit and cursor. A malformed cursor is rejected
// here, before any service call.
func ParsePagination(r *http.Request) (pagination.Params, error) {
	limit, err := ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	cursor, err := queryValue(r, "cursor", "", "a cursor from a previous page", func(raw string) (string, error) {
		_, err := pagination.ParseCursor(raw)
		return raw, err
	})
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{Limit: limit, Cursor: cursor}, nil
}
