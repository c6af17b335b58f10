// Package migrations bundles the SQL schema of the chat store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
