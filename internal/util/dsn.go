package util

import "strings"

// DSN types returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite3"
	DSNTypeJSON     = "json"
	DSNTypeMemory   = "memory"
)

// DetectDSNType guesses the backend for a connection string. Postgres URLs and key=value DSNs
// map to postgres, ".json" paths to the JSON file store, "memory" or ":memory:" to the in-memory
// store and everything else to SQLite.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DSNTypePostgres
	case lower == "memory" || lower == ":memory:" || lower == "memory://":
		return DSNTypeMemory
	case strings.HasSuffix(lower, ".json"):
		return DSNTypeJSON
	case strings.Contains(d, "=") && strings.Contains(d, " ") || strings.HasPrefix(lower, "host="):
		return DSNTypePostgres
	default:
		return DSNTypeSQLite
	}
}
