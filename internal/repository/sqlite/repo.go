// Package sqlite contains SQLite implementations of repository interfaces.
// All repositories operate through the shared store handle; multi-row writes
// run inside one transaction so partial batches are never visible.
package sqlite

import (
	"database/sql"
	"strings"
	"time"
)

// timeLayout is the canonical timestamp encoding in the database.
const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// placeholders returns "?,?,...,?" with n slots.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
