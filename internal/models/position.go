package models

import (
	"time"
)

type PositionStatus string

const (
	PositionPending     PositionStatus = "pending"
	PositionOpen        PositionStatus = "open"
	PositionClosedWin   PositionStatus = "closed_win"
	PositionClosedLoss  PositionStatus = "closed_loss"
	PositionClosedEarly PositionStatus = "closed_early"
	PositionCancelled   PositionStatus = "cancelled"
)

// IsOpenState reports whether the status still counts toward the
// concurrent-positions cap.
func (s PositionStatus) IsOpenState() bool {
	return s == PositionPending || s == PositionOpen
}

// IsClosedState reports whether the position has reached a terminal
// closed status with realized P&L.
func (s PositionStatus) IsClosedState() bool {
	return s == PositionClosedWin || s == PositionClosedLoss || s == PositionClosedEarly
}

// Position is a real or pending bet placed from a tradeable EdgeAnalysis.
type Position struct {
	ID             uint64   `gorm:"primaryKey;autoIncrement"`
	MarketID       uint64   `gorm:"not null;index"`
	EdgeAnalysisID uint64   `gorm:"not null;index"`
	Platform       Platform `gorm:"type:varchar(20);not null;index"`

	Side         Side    `gorm:"type:varchar(5);not null"`
	NumContracts int     `gorm:"not null"`
	EntryPrice   float64 `gorm:"type:numeric(10,4);not null"`
	TotalCost    float64 `gorm:"type:numeric(14,2);not null"`

	ExitPrice  *float64 `gorm:"type:numeric(10,4)"`
	PnlDollars *float64 `gorm:"column:pnl_dollars;type:numeric(14,2)"`
	PnlPercent *float64 `gorm:"column:pnl_percent;type:numeric(10,2)"`

	Status          PositionStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	PlatformOrderID *string        `gorm:"type:varchar(128)"`

	OpenedAt time.Time  `gorm:"type:timestamptz;not null"`
	ClosedAt *time.Time `gorm:"type:timestamptz;index"`
}

func (Position) TableName() string {
	return "positions"
}
