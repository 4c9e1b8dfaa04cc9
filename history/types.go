package history

import "time"

// StateRecord is one persisted plant state snapshot.
type StateRecord struct {
	ID             uint      `gorm:"primaryKey"`
	SiteID         string    `gorm:"index"`
	Time           time.Time `gorm:"index"`
	Source         string
	SocPct         float64
	SohPct         float64
	PBessKw        float64
	PPvKw          float64
	PLoadKw        float64
	PGridKw        float64
	TemperatureC   float64
	PriceEurMwh    float64
	SetpointKw     float64
	ActiveStrategy string
	Mode           string
	Alarm          bool
}

// OptimizationRecord is one persisted optimization run. Metadata and Features
// are JSON blobs; Features feeds the learned strategy selector.
type OptimizationRecord struct {
	ID              uint      `gorm:"primaryKey"`
	SiteID          string    `gorm:"index"`
	Time            time.Time `gorm:"index"`
	Strategy        string
	Status          string
	Solver          string
	ExpectedRevenue float64
	ExpectedCost    float64
	ExpectedProfit  float64
	Confidence      float64
	Metadata        string
	Features        string
}

// StrategyChange is one persisted strategy switch. Scores is a JSON blob of
// the evaluation scores at switch time.
type StrategyChange struct {
	ID          uint      `gorm:"primaryKey"`
	SiteID      string    `gorm:"index"`
	Time        time.Time `gorm:"index"`
	OldStrategy string
	NewStrategy string
	Reason      string
	Scores      string
}

// DailyMetrics is the per-day rollup of one site's state history.
type DailyMetrics struct {
	ID                  uint   `gorm:"primaryKey"`
	SiteID              string `gorm:"uniqueIndex:idx_site_date"`
	Date                string `gorm:"uniqueIndex:idx_site_date"`
	Samples             int
	AvgSocPct           float64
	MinSocPct           float64
	MaxSocPct           float64
	EnergyChargedKwh    float64
	EnergyDischargedKwh float64
	Cycles              float64
	ExpectedRevenueEur  float64
	ExpectedCostEur     float64
	ExpectedProfitEur   float64
	StrategyUsage       string
}

// Summary aggregates the daily metrics over a reporting window.
type Summary struct {
	Days                int
	AvgSocPct           float64
	EnergyChargedKwh    float64
	EnergyDischargedKwh float64
	Cycles              float64
	ExpectedRevenueEur  float64
	ExpectedCostEur     float64
	ExpectedProfitEur   float64
	StrategyUsage       map[string]int
}
