// Package dbmigrations exposes embedded SQL migrations for Vantage binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into Vantage binaries.
//
//go:embed *.sql
var Files embed.FS
