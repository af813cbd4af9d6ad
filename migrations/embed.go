// Package migrations embeds the SQL schema for the local cache (sqlite) and
// the remote store (postgres).
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// SQLite returns the local cache migrations.
func SQLite() fs.FS {
	return sub("sqlite")
}

// Postgres returns the remote store migrations.
func Postgres() fs.FS {
	return sub("postgres")
}

func sub(dir string) fs.FS {
	f, err := fs.Sub(FS, dir)
	if err != nil {
		// dir is a compile-time constant covered by the embed pattern
		panic(err)
	}
	return f
}
