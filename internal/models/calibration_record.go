package models

import (
	"time"
)

// CalibrationRecord is written once per resolved market that had a traded
// analysis, pairing the system forecast with the actual outcome.
type CalibrationRecord struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	MarketID uint64 `gorm:"not null;index"`

	SystemProbability   float64 `gorm:"type:numeric(10,4);not null"`
	MarketPriceAtEntry  float64 `gorm:"type:numeric(10,4);not null"`
	ActualOutcome       bool    `gorm:"not null"`
	BrierScore          float64 `gorm:"type:numeric(12,6);not null"`

	ResearchEstimate *float64 `gorm:"type:numeric(10,4)"`
	BaseRateEstimate *float64 `gorm:"type:numeric(10,4)"`
	ModelEstimate    *float64 `gorm:"type:numeric(10,4)"`

	Category   MarketCategory `gorm:"type:varchar(20);not null;index"`
	ResolvedAt time.Time      `gorm:"type:timestamptz;not null;index"`
}

func (CalibrationRecord) TableName() string {
	return "calibration_records"
}
