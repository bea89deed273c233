// Package migrations embeds the SQL migrations of the schema graph store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
