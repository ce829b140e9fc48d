// Package migrations embeds SQL migrations applied by internal/migrate.
package migrations

import "embed"

// FS holds versioned goose migrations.
//
//go:embed *.sql
var FS embed.FS
