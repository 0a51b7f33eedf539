// Package migrations embeds the SQLite schema for session storage.
package migrations

import "embed"

// FS holds the migration files, applied in filename order.
//
//go:embed *.sql
var FS embed.FS
