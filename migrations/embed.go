// Package migrations embeds the SQL schema migrations.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS
