// Package pagination implements keyset paging over (created_at, id).
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

var errMalformedCursor = errors.New("malformed cursor")

// Params is the limit/cursor pair accepted by every list endpoint.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor points just past the last row of the previous page.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// NormalizeLimit maps zero or negative to DefaultLimit and caps at MaxLimit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// LimitWithBuffer is the row count to fetch so one look-ahead row reveals
// whether a next page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// EncodeCursor renders "<unix nanos>.<uuid>" as unpadded URL-safe base64.
func EncodeCursor(c Cursor) string {
	raw := strconv.FormatInt(c.CreatedAt.UTC().UnixNano(), 10) + "." + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor returns nil for a blank cursor.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCursor, err)
	}
	nanos, id, ok := strings.Cut(string(raw), ".")
	if !ok {
		return nil, errMalformedCursor
	}
	ts, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", errMalformedCursor, err)
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %v", errMalformedCursor, err)
	}
	return &Cursor{CreatedAt: time.Unix(0, ts).UTC(), ID: parsedID}, nil
}

// Page is a slice of results plus the cursor of the following page, if any.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Split drops the look-ahead row fetched with LimitWithBuffer and reports
// whether another page exists.
func Split[T any](rows []T, limit int) ([]T, bool) {
	limit = NormalizeLimit(limit)
	if len(rows) > limit {
		return rows[:limit], true
	}
	return rows, false
}

// Build turns rows fetched with LimitWithBuffer into a Page, converting each
// kept row and deriving NextCursor from the last one.
func Build[R, T any](rows []R, limit int, convert func(*R) T, cursorOf func(*R) Cursor) *Page[T] {
	rows, more := Split(rows, limit)
	page := &Page[T]{Items: make([]T, 0, len(rows))}
	for i := range rows {
		page.Items = append(page.Items, convert(&rows[i]))
	}
	if more && len(rows) > 0 {
		page.NextCursor = EncodeCursor(cursorOf(&rows[len(rows)-1]))
	}
	return page
}
