package store

import "time"

// Dialect supplies the DDL fragments that differ between backends. The
// schema template in schema.go is rendered through it at migration time.
type Dialect interface {
	AutoIncrementPK() string
	TimestampType() string
	BigIntType() string
	FloatType() string
	Now() string
}

type sqliteDialect struct{}

func (d sqliteDialect) AutoIncrementPK() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (d sqliteDialect) TimestampType() string   { return "TEXT" }
func (d sqliteDialect) BigIntType() string      { return "INTEGER" }
func (d sqliteDialect) FloatType() string       { return "REAL" }
func (d sqliteDialect) Now() string             { return "datetime('now')" }

type postgresDialect struct{}

func (d postgresDialect) AutoIncrementPK() string { return "BIGSERIAL PRIMARY KEY" }
func (d postgresDialect) TimestampType() string   { return "TIMESTAMPTZ" }
func (d postgresDialect) BigIntType() string      { return "BIGINT" }
func (d postgresDialect) FloatType() string       { return "DOUBLE PRECISION" }
func (d postgresDialect) Now() string             { return "NOW()" }

// parseTime converts a scanned timestamp value to time.Time.
// Handles both SQLite (returns string) and Postgres (returns time.Time).
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if t == "" {
			return time.Time{}
		}
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02 15:04:05",
			"2006-01-02 15:04:05-07:00",
		} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}
