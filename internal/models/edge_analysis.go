package models

import (
	"time"

	"gorm.io/datatypes"
)

type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// EdgeAnalysis is the Kelly gate's verdict for one market in one scan or
// analysis run. Immutable; at most one position may be chained from a
// tradeable analysis.
type EdgeAnalysis struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	MarketID uint64 `gorm:"not null;index"`
	ScanID   string `gorm:"type:varchar(64);not null;index"`

	SystemProbability float64 `gorm:"type:numeric(10,4);not null"`
	MarketPrice       float64 `gorm:"type:numeric(10,4);not null"`
	Edge              float64 `gorm:"type:numeric(10,4);not null"`
	ExpectedValue     float64 `gorm:"type:numeric(12,6);not null"`
	KellyFraction     float64 `gorm:"type:numeric(12,6);not null"`
	HalfKellyFraction float64 `gorm:"type:numeric(12,6);not null"`

	PositionSizeDollars float64 `gorm:"type:numeric(14,2);not null"`
	NumContracts        int     `gorm:"not null"`
	RecommendedSide     Side    `gorm:"type:varchar(5);not null"`

	Tradeable       bool    `gorm:"not null;index"`
	RejectionReason *string `gorm:"type:text"`

	DebateTriggered     bool           `gorm:"not null;index"`
	DebateTranscript    datatypes.JSON `gorm:"type:jsonb"`
	EstimatesDivergence float64        `gorm:"type:numeric(10,4);not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (EdgeAnalysis) TableName() string {
	return "edge_analyses"
}
