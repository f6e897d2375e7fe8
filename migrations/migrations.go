// Package migrations embeds the schema for each supported ledger backend.
package migrations

import "embed"

// FS holds postgres/*.sql and sqlite/*.sql, applied in lexical order.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
