// Package migrations embeds the schema files applied by "saga migrate" and
// by the integration test harness.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
