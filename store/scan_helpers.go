package store

import (
	"database/sql"
	"time"
)

// fmtTime renders an application-written timestamp.
// Both backends accept RFC3339 text for their timestamp columns.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// fmtTimePtr renders an optional timestamp, passing NULL through.
func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func scanTimePtr(v any) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		tt := t
		return &tt
	case string:
		parsed := parseTime(t)
		if parsed.IsZero() {
			return nil
		}
		return &parsed
	case sql.NullString:
		if !t.Valid {
			return nil
		}
		parsed := parseTime(t.String)
		if parsed.IsZero() {
			return nil
		}
		return &parsed
	}
	return nil
}
