package db

import (
	"edgehunter/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Market{},
		&models.ProbabilityEstimate{},
		&models.EdgeAnalysis{},
		&models.Position{},
		&models.CalibrationRecord{},
	)
}
