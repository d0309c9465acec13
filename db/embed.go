// Package db provides embedded database migrations and seed data.
package db

import "embed"

// Migrations holds the versioned schema migrations under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the files.
const MigrationsDir = "migrations"

// Seed contains the development catalog: pharmacies, medicines, riders,
// addresses, coupons and an internal API key.
//
//go:embed seed/seed.json
var Seed []byte
