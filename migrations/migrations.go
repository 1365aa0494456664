// Package migrations embeds the schema for the action and team stores.
package migrations

import "embed"

// One directory per driver; files apply in filename order.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
