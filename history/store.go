package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/gridvolt/emscontroller/strategy"
	"github.com/gridvolt/emscontroller/telemetry"
)

// maxIntegrationGap caps the interval credited between two state samples
// when integrating energy, so outages do not inflate the daily totals.
const maxIntegrationGap = 10 * time.Minute

// Store persists states, optimizations, strategy changes and daily rollups
// to a local SQLite file.
type Store struct {
	db *gorm.DB
}

func New(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	err = db.AutoMigrate(&StateRecord{}, &OptimizationRecord{}, &StrategyChange{}, &DailyMetrics{})
	if err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// AppendState persists one plant state snapshot.
func (s *Store) AppendState(state telemetry.PlantState) error {
	record := StateRecord{
		SiteID:         state.SiteID,
		Time:           state.Timestamp,
		Source:         string(state.Source),
		SocPct:         state.SocPct,
		SohPct:         state.SohPct,
		PBessKw:        state.PBessKw,
		PPvKw:          state.PPvKw,
		PLoadKw:        state.PLoadKw,
		PGridKw:        state.PGridKw,
		TemperatureC:   state.TemperatureC,
		PriceEurMwh:    state.PriceEurMwh,
		SetpointKw:     state.SetpointKw,
		ActiveStrategy: state.ActiveStrategy,
		Mode:           string(state.Mode),
		Alarm:          state.Alarm,
	}
	return s.db.Create(&record).Error
}

// AppendOptimization persists one optimization run. The metadata and feature
// vector are stored as JSON.
func (s *Store) AppendOptimization(siteID string, at time.Time, result *strategy.Result, status string, solver string, features *strategy.FeatureVector) error {
	metadata, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	featuresJSON := ""
	if features != nil {
		encoded, err := json.Marshal(features)
		if err != nil {
			return fmt.Errorf("encode features: %w", err)
		}
		featuresJSON = string(encoded)
	}

	record := OptimizationRecord{
		SiteID:          siteID,
		Time:            at,
		Strategy:        result.StrategyName,
		Status:          status,
		Solver:          solver,
		ExpectedRevenue: result.ExpectedRevenue,
		ExpectedCost:    result.ExpectedCost,
		ExpectedProfit:  result.ExpectedProfit,
		Confidence:      result.Confidence,
		Metadata:        string(metadata),
		Features:        featuresJSON,
	}
	return s.db.Create(&record).Error
}

// AppendStrategyChange persists one strategy switch.
func (s *Store) AppendStrategyChange(siteID string, at time.Time, change strategy.Change) error {
	scores, err := json.Marshal(change.Scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}

	record := StrategyChange{
		SiteID:      siteID,
		Time:        at,
		OldStrategy: change.Old,
		NewStrategy: change.New,
		Reason:      change.Reason,
		Scores:      string(scores),
	}
	return s.db.Create(&record).Error
}

// RecentStates returns the newest state records, newest first.
func (s *Store) RecentStates(siteID string, limit int) ([]StateRecord, error) {
	var records []StateRecord
	result := s.db.Where("site_id = ?", siteID).Order("time desc").Limit(limit).Find(&records)
	return records, result.Error
}

// RecentOptimizations returns the newest optimization records, newest first.
func (s *Store) RecentOptimizations(siteID string, limit int) ([]OptimizationRecord, error) {
	var records []OptimizationRecord
	result := s.db.Where("site_id = ?", siteID).Order("time desc").Limit(limit).Find(&records)
	return records, result.Error
}

// StrategyChanges returns the newest strategy switches, newest first.
func (s *Store) StrategyChanges(siteID string, limit int) ([]StrategyChange, error) {
	var records []StrategyChange
	result := s.db.Where("site_id = ?", siteID).Order("time desc").Limit(limit).Find(&records)
	return records, result.Error
}

// CalculateDailyMetrics rolls the given UTC day's state history up into one
// DailyMetrics row, replacing any previous rollup for that day.
func (s *Store) CalculateDailyMetrics(siteID string, day time.Time, capacityKwh float64) (*DailyMetrics, error) {
	if capacityKwh <= 0 {
		capacityKwh = 200.0
	}

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var states []StateRecord
	result := s.db.
		Where("site_id = ? AND time >= ? AND time < ?", siteID, dayStart, dayEnd).
		Order("time asc").
		Find(&states)
	if result.Error != nil {
		return nil, result.Error
	}
	if len(states) == 0 {
		return nil, fmt.Errorf("no state history for %s on %s", siteID, dayStart.Format("2006-01-02"))
	}

	metrics := DailyMetrics{
		SiteID:    siteID,
		Date:      dayStart.Format("2006-01-02"),
		Samples:   len(states),
		MinSocPct: states[0].SocPct,
		MaxSocPct: states[0].SocPct,
	}

	socSum := 0.0
	usage := make(map[string]int)
	for i, st := range states {
		socSum += st.SocPct
		metrics.MinSocPct = math.Min(metrics.MinSocPct, st.SocPct)
		metrics.MaxSocPct = math.Max(metrics.MaxSocPct, st.SocPct)
		if st.ActiveStrategy != "" {
			usage[st.ActiveStrategy]++
		}

		if i == 0 {
			continue
		}
		gap := st.Time.Sub(states[i-1].Time)
		if gap <= 0 {
			continue
		}
		if gap > maxIntegrationGap {
			gap = maxIntegrationGap
		}
		dtH := gap.Hours()
		metrics.EnergyChargedKwh += math.Max(0, -st.PBessKw) * dtH
		metrics.EnergyDischargedKwh += math.Max(0, st.PBessKw) * dtH
	}
	metrics.AvgSocPct = socSum / float64(len(states))
	metrics.Cycles = metrics.EnergyDischargedKwh / (2 * capacityKwh)

	var totals struct {
		Revenue float64
		Cost    float64
		Profit  float64
	}
	result = s.db.Model(&OptimizationRecord{}).
		Select("COALESCE(SUM(expected_revenue), 0) as revenue, COALESCE(SUM(expected_cost), 0) as cost, COALESCE(SUM(expected_profit), 0) as profit").
		Where("site_id = ? AND time >= ? AND time < ?", siteID, dayStart, dayEnd).
		Scan(&totals)
	if result.Error != nil {
		return nil, result.Error
	}
	metrics.ExpectedRevenueEur = totals.Revenue
	metrics.ExpectedCostEur = totals.Cost
	metrics.ExpectedProfitEur = totals.Profit

	usageJSON, err := json.Marshal(usage)
	if err != nil {
		return nil, fmt.Errorf("encode strategy usage: %w", err)
	}
	metrics.StrategyUsage = string(usageJSON)

	var existing DailyMetrics
	err = s.db.Where("site_id = ? AND date = ?", siteID, metrics.Date).First(&existing).Error
	switch {
	case err == nil:
		metrics.ID = existing.ID
		if err := s.db.Save(&metrics).Error; err != nil {
			return nil, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(&metrics).Error; err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return &metrics, nil
}

// PerformanceSummary aggregates the last `days` daily rollups.
func (s *Store) PerformanceSummary(siteID string, days int) (*Summary, error) {
	var rows []DailyMetrics
	result := s.db.Where("site_id = ?", siteID).Order("date desc").Limit(days).Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}

	summary := &Summary{
		Days:          len(rows),
		StrategyUsage: make(map[string]int),
	}
	if len(rows) == 0 {
		return summary, nil
	}

	socSum := 0.0
	for _, row := range rows {
		socSum += row.AvgSocPct
		summary.EnergyChargedKwh += row.EnergyChargedKwh
		summary.EnergyDischargedKwh += row.EnergyDischargedKwh
		summary.Cycles += row.Cycles
		summary.ExpectedRevenueEur += row.ExpectedRevenueEur
		summary.ExpectedCostEur += row.ExpectedCostEur
		summary.ExpectedProfitEur += row.ExpectedProfitEur

		var usage map[string]int
		if row.StrategyUsage != "" {
			if err := json.Unmarshal([]byte(row.StrategyUsage), &usage); err == nil {
				for name, count := range usage {
					summary.StrategyUsage[name] += count
				}
			}
		}
	}
	summary.AvgSocPct = socSum / float64(len(rows))

	return summary, nil
}

// TrainingRecords returns the persisted feature vectors of successful
// optimizations, paired with the strategy that ran, for the learned selector.
func (s *Store) TrainingRecords(siteID string, limit int) ([]strategy.TrainingRecord, error) {
	var records []OptimizationRecord
	result := s.db.
		Where("site_id = ? AND features <> '' AND status = ?", siteID, string(telemetry.OptimizationSuccess)).
		Order("time desc").
		Limit(limit).
		Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}

	training := make([]strategy.TrainingRecord, 0, len(records))
	for _, record := range records {
		var features strategy.FeatureVector
		if err := json.Unmarshal([]byte(record.Features), &features); err != nil {
			continue
		}
		training = append(training, strategy.TrainingRecord{
			Features: features,
			Strategy: record.Strategy,
		})
	}
	return training, nil
}
