// Package registrydb holds all the migrations for the registry event journal database
package registrydb

import "github.com/uptrace/bun/migrate"

// Migrations is the registry database migration set
var Migrations = migrate.NewMigrations()
