package migrations

import _ "embed"

//go:embed 0002_create_store_tables.sql
var createStoreTablesSQL string

func init() {
	Migrations.MustRegister(sqlMigration(createStoreTablesSQL,
		`DROP TABLE IF EXISTS templates, notifications, groups, results, users`))
}
