// Package migrations embeds the SQL schema migrations applied by db.Migrate
// and the `bodasure db migrate` command.
package migrations

import (
	"embed"
)

//go:embed *.sql
var FS embed.FS
