package plantstate

import (
	"math"
	"time"
)

// FlowReport is the energy decomposition of the recent history into the
// seven plant flows, in kWh.
type FlowReport struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Samples     int

	PvToLoadKwh   float64
	BessToLoadKwh float64
	GridToLoadKwh float64
	PvToBessKwh   float64
	GridToBessKwh float64
	PvToGridKwh   float64
	BessToGridKwh float64

	PvGeneratedKwh   float64
	LoadConsumedKwh  float64
	BessChargeKwh    float64
	BessDischargeKwh float64
	GridImportKwh    float64
	GridExportKwh    float64
}

// PowerFlow integrates the ring over the given window and splits the energy
// greedily across the flows, local sources first: PV covers the load, then
// the battery, then the grid; leftover PV charges the battery before it is
// exported.
func (s *Store) PowerFlow(window time.Duration) FlowReport {
	points := s.Recent(window, 0)

	report := FlowReport{Samples: len(points)}
	if len(points) < 2 {
		return report
	}
	report.WindowStart = points[0].Timestamp
	report.WindowEnd = points[len(points)-1].Timestamp

	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]

		dtH := cur.Timestamp.Sub(prev.Timestamp).Hours()
		if dtH <= 0 {
			continue
		}

		// trapezoidal average over the interval
		pv := (prev.PPvKw + cur.PPvKw) / 2
		load := (prev.PLoadKw + cur.PLoadKw) / 2
		bess := (prev.PBessKw + cur.PBessKw) / 2
		grid := (prev.PGridKw + cur.PGridKw) / 2

		pvE := math.Max(0, pv) * dtH
		loadE := math.Max(0, load) * dtH
		bessDischargeE := math.Max(0, bess) * dtH
		bessChargeE := math.Max(0, -bess) * dtH
		gridImportE := math.Max(0, grid) * dtH
		gridExportE := math.Max(0, -grid) * dtH

		pvToLoad := math.Min(pvE, loadE)
		bessToLoad := math.Min(bessDischargeE, loadE-pvToLoad)
		gridToLoad := math.Min(gridImportE, loadE-pvToLoad-bessToLoad)
		pvToBess := math.Min(pvE-pvToLoad, bessChargeE)
		gridToBess := math.Min(gridImportE-gridToLoad, bessChargeE-pvToBess)
		pvToGrid := math.Min(pvE-pvToLoad-pvToBess, gridExportE)
		bessToGrid := math.Min(bessDischargeE-bessToLoad, gridExportE-pvToGrid)

		report.PvToLoadKwh += pvToLoad
		report.BessToLoadKwh += bessToLoad
		report.GridToLoadKwh += gridToLoad
		report.PvToBessKwh += pvToBess
		report.GridToBessKwh += gridToBess
		report.PvToGridKwh += pvToGrid
		report.BessToGridKwh += bessToGrid

		report.PvGeneratedKwh += pvE
		report.LoadConsumedKwh += loadE
		report.BessChargeKwh += bessChargeE
		report.BessDischargeKwh += bessDischargeE
		report.GridImportKwh += gridImportE
		report.GridExportKwh += gridExportE
	}

	report.round()
	return report
}

func (r *FlowReport) round() {
	for _, v := range []*float64{
		&r.PvToLoadKwh, &r.BessToLoadKwh, &r.GridToLoadKwh,
		&r.PvToBessKwh, &r.GridToBessKwh, &r.PvToGridKwh, &r.BessToGridKwh,
		&r.PvGeneratedKwh, &r.LoadConsumedKwh, &r.BessChargeKwh,
		&r.BessDischargeKwh, &r.GridImportKwh, &r.GridExportKwh,
	} {
		*v = math.Round(*v*1000) / 1000
	}
}
