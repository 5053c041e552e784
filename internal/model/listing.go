package model

import "time"

// Listing is a market offer inside a complex. Listings are written by
// external scrapers and only read here, except for the computed stress score.
type Listing struct {
	ID           int64     `json:"id" db:"id"`
	EntityID     int64     `json:"entity_id" db:"entity_id"`
	ExternalID   string    `json:"external_id" db:"external_id"`
	Platform     string    `json:"platform" db:"platform"`
	Price        float64   `json:"price" db:"price"`
	AreaSqm      float64   `json:"area_sqm" db:"area_sqm"`
	Rooms        float64   `json:"rooms" db:"rooms"`
	Floor        int       `json:"floor" db:"floor"`
	DaysOnMarket int       `json:"days_on_market" db:"days_on_market"`
	PriceDrops   int       `json:"price_drops" db:"price_drops"`
	PriceDropPct float64   `json:"price_drop_pct" db:"price_drop_pct"`
	Description  string    `json:"description,omitempty" db:"description"`
	Active       bool      `json:"active" db:"active"`
	StressScore  float64   `json:"stress_score" db:"stress_score"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Hearing is an upcoming committee discussion for an entity.
type Hearing struct {
	EntityID int64          `json:"entity_id"`
	Level    CommitteeLevel `json:"level"`
	Date     time.Time      `json:"date"`
	Subject  string         `json:"subject,omitempty"`
}
