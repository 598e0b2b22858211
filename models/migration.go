package models

import (
	"github.com/creditfield/loan_backend/config"
)

// MigrateTable creates or updates every table the engine persists.
func MigrateTable() error {
	db := config.GetDB()

	return db.AutoMigrate(
		&ComparisonInvestigation{},
		&InvcSection{},
		&ComparisonField{},
		&FieldHistory{},
		&InvestigationEvent{},
	)
}
