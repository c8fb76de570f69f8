package migrations

import "embed"

// FS embeds the SQL migrations for the campaign platform schema: tenants,
// contacts and lists, campaigns, per-recipient messages and the credit
// ledger. golang-migrate reads them through the iofs driver.
//
//go:embed *.sql
var FS embed.FS

// Version is the schema version Migrate targets.
const Version = 1
