// Package db carries the embedded goose migration files.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
