package importer

import (
	"database/sql"
	"time"
)

// nullInt64 converts a mapped value (int64, int, or nil) into a
// sql.NullInt64, used throughout the concrete importers when a field
// mapping resolves to an optional foreign key.
func nullInt64(v interface{}) sql.NullInt64 {
	switch t := v.(type) {
	case int64:
		return sql.NullInt64{Int64: t, Valid: true}
	case int:
		return sql.NullInt64{Int64: int64(t), Valid: true}
	default:
		return sql.NullInt64{}
	}
}

// nullString converts a mapped value into a sql.NullString, treating
// the empty string the same as nil.
func nullString(v interface{}) sql.NullString {
	s, ok := v.(string)
	if !ok || s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullFloat64 converts a mapped value into a sql.NullFloat64.
func nullFloat64(v interface{}) sql.NullFloat64 {
	f, ok := v.(float64)
	if !ok {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

// floatOf returns the float64 mapped value or zero.
func floatOf(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

// floatOrDefault returns the float64 mapped value, or def if the value
// is absent or zero.
func floatOrDefault(v interface{}, def float64) float64 {
	f, ok := v.(float64)
	if !ok || f == 0 {
		return def
	}
	return f
}

// boolOf returns the bool mapped value or false.
func boolOf(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

// stringOf returns the string mapped value or "".
func stringOf(v interface{}) string {
	s, _ := v.(string)
	return s
}

// intOf returns the int mapped value or 0.
func intOf(v interface{}) int {
	i, _ := v.(int)
	return i
}

// sqlNullTime wraps a time.Time as a valid sql.NullTime, treating the
// zero value as not set.
func sqlNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
