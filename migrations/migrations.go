// Package migrations embeds the SQL schema migrations.
package migrations

import "embed"

// FS holds every *.up.sql and *.down.sql file, applied in filename order.
//
//go:embed *.sql
var FS embed.FS
