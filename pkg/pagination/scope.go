package pagination

import "gorm.io/gorm"

// Keyset orders newest first by (created_at, id) and resumes strictly after
// cursor. alias qualifies the columns for joined queries and may be empty.
// One extra row is fetched so Split can tell whether another page exists.
func Keyset(alias string, limit int, cursor *Cursor) func(*gorm.DB) *gorm.DB {
	created, id := "created_at", "id"
	if alias != "" {
		created, id = alias+"."+created, alias+"."+id
	}
	return func(q *gorm.DB) *gorm.DB {
		if cursor != nil {
			q = q.Where("("+created+" < ?) OR ("+created+" = ? AND "+id+" < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
		}
		return q.Order(created + " DESC").Order(id + " DESC").Limit(LimitWithBuffer(limit))
	}
}
