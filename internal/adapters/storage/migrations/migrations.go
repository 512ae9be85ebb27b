// Package migrations holds the embedded goose migrations for the absences database.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
