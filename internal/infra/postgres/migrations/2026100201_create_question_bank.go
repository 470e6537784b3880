package migrations

import _ "embed"

//go:embed 0003_create_question_bank.sql
var createQuestionBankSQL string

func init() {
	Migrations.MustRegister(sqlMigration(createQuestionBankSQL, `DROP TABLE IF EXISTS question_bank`))
}
