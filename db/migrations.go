// Package db holds the database migrations.
package db

import "embed"

// Migrations contains the ordered migration files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS
