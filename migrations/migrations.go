// Package migrations embeds the goose SQL migration set so cmd/migrate can
// apply it without relying on a filesystem path at runtime.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
