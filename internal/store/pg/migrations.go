package pg

import (
	"embed"
	"io/fs"
)

//go:embed sql/migrations/*.sql
var migrationFiles embed.FS

//go:embed sql/seeds/*.sql
var seedFiles embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "sql/migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Seeds returns the embedded demo data.
func Seeds() fs.FS {
	sub, err := fs.Sub(seedFiles, "sql/seeds")
	if err != nil {
		panic(err)
	}
	return sub
}
