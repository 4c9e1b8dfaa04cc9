package powerctrl

import (
	"math"
	"time"

	"github.com/gridvolt/emscontroller/timeutils"
)

// FeedInMode selects how grid export is limited.
type FeedInMode string

const (
	FeedInOff     FeedInMode = "off"
	FeedInFixed   FeedInMode = "fixed"
	FeedInDynamic FeedInMode = "dynamic"
)

// FeedInRule binds a daily clock window to an export limit percentage. Rules
// are evaluated in order; the first window containing `now` wins.
type FeedInRule struct {
	Window   timeutils.DayedWindow
	LimitPct float64
}

// FeedInConfig configures the export limiter.
type FeedInConfig struct {
	Mode          FeedInMode
	FixedLimitPct float64
	PVIntegration bool
	Rules         []FeedInRule
}

// FeedInLimiter restricts export (negative) power to a percentage of its
// requested value, or of the live PV power when PV integration is on.
type FeedInLimiter struct {
	cfg FeedInConfig
}

func NewFeedInLimiter(cfg FeedInConfig) *FeedInLimiter {
	return &FeedInLimiter{cfg: cfg}
}

// LimitPct returns the applicable limit percentage at `now`. 100 means
// unlimited.
func (f *FeedInLimiter) LimitPct(now time.Time) float64 {
	switch f.cfg.Mode {
	case FeedInFixed:
		return math.Max(0, math.Min(100, f.cfg.FixedLimitPct))
	case FeedInDynamic:
		for _, rule := range f.cfg.Rules {
			if rule.Window.Contains(now) {
				return math.Max(0, math.Min(100, rule.LimitPct))
			}
		}
		return 100.0
	default:
		return 100.0
	}
}

// Apply limits an export setpoint. Import (positive) power passes through
// untouched. The second return is true when the limiter changed the value.
func (f *FeedInLimiter) Apply(powerKw, pvKw float64, now time.Time) (float64, bool) {
	if powerKw >= 0 {
		return powerKw, false
	}

	pct := f.LimitPct(now)
	if pct >= 100 {
		return powerKw, false
	}

	var limited float64
	if f.cfg.PVIntegration {
		cap := math.Max(0, pvKw*pct/100.0)
		limited = -math.Min(-powerKw, cap)
	} else {
		limited = powerKw * pct / 100.0
	}

	return limited, limited != powerKw
}
