package migrations

import _ "embed"

//go:embed 0001_create_quizzes.sql
var createQuizzesSQL string

func init() {
	Migrations.MustRegister(sqlMigration(createQuizzesSQL, `DROP TABLE IF EXISTS quizzes`))
}
