package migrations

import "embed"

// FS contains embedded SQLite migrations for the results archive.
//
//go:embed *.sql
var FS embed.FS
