// Package migrations embeds the goose SQL migrations.  The DDL is kept to the
// subset understood by both MySQL and SQLite.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
