package models

import (
	"time"
)

type Desk string

const (
	DeskResearch Desk = "research"
	DeskBaseRate Desk = "base_rate"
	DeskModel    Desk = "model"
)

// ProbabilityEstimate is one analyst desk's output for one market in one
// scan or analysis run. Immutable once written.
type ProbabilityEstimate struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	MarketID uint64 `gorm:"not null;index"`
	ScanID   string `gorm:"type:varchar(64);not null;index"`

	Desk      Desk   `gorm:"type:varchar(20);not null"`
	AgentName string `gorm:"type:varchar(64)"`

	Probability float64 `gorm:"type:numeric(10,4);not null"`
	Confidence  float64 `gorm:"type:numeric(10,4);not null"`
	Reasoning   string  `gorm:"type:text"`
	ModelKind   string  `gorm:"type:varchar(64)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (ProbabilityEstimate) TableName() string {
	return "probability_estimates"
}
