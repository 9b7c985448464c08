package models

import (
	"time"
)

type Platform string

const (
	PlatformKalshi     Platform = "kalshi"
	PlatformPolymarket Platform = "polymarket"
)

type MarketCategory string

const (
	CategoryEconomics     MarketCategory = "economics"
	CategoryPolitics      MarketCategory = "politics"
	CategoryWeather       MarketCategory = "weather"
	CategoryCrypto        MarketCategory = "crypto"
	CategorySports        MarketCategory = "sports"
	CategoryEntertainment MarketCategory = "entertainment"
	CategoryOther         MarketCategory = "other"
)

type MarketStatus string

const (
	MarketActive      MarketStatus = "active"
	MarketResolvedYes MarketStatus = "resolved_yes"
	MarketResolvedNo  MarketStatus = "resolved_no"
	MarketExpired     MarketStatus = "expired"
)

// Market is one binary contract tracked across scans. Prices are fractions
// of the $1.00 contract payout.
type Market struct {
	ID               uint64   `gorm:"primaryKey;autoIncrement"`
	Platform         Platform `gorm:"type:varchar(20);not null;uniqueIndex:idx_markets_platform_market_id"`
	PlatformMarketID string   `gorm:"type:varchar(128);not null;uniqueIndex:idx_markets_platform_market_id;index"`

	Title       string         `gorm:"type:text;not null"`
	Description string         `gorm:"type:text"`
	Category    MarketCategory `gorm:"type:varchar(20);not null;default:'other';index"`

	YesPrice  float64 `gorm:"type:numeric(10,4);not null;default:0"`
	NoPrice   float64 `gorm:"type:numeric(10,4);not null;default:0"`
	Spread    float64 `gorm:"type:numeric(10,4);not null;default:0"`
	Volume24h int64   `gorm:"column:volume_24h;not null;default:0;index"`

	CloseTime    *time.Time `gorm:"type:timestamptz"`
	DaysToExpiry *int

	Status          MarketStatus `gorm:"type:varchar(20);not null;default:'active';index"`
	ResolvedOutcome *bool
	ResolutionTime  *time.Time `gorm:"type:timestamptz"`

	FirstSeen   time.Time `gorm:"type:timestamptz;not null"`
	LastUpdated time.Time `gorm:"type:timestamptz;not null"`
}

func (Market) TableName() string {
	return "markets"
}
