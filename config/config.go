package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gridvolt/emscontroller/modbusreg"
	"github.com/gridvolt/emscontroller/timeutils"
)

// EmsConfig tunes the control and optimization loops of one site.
type EmsConfig struct {
	TimestepSecs             int     `yaml:"timestepSecs"`
	OptimizationIntervalSecs int     `yaml:"optimizationIntervalSecs"`
	Mode                     string  `yaml:"mode"`
	SwitchThreshold          float64 `yaml:"switchThreshold"`
	LearnedSelection         bool    `yaml:"learnedSelection"`
}

// BessConfig carries the battery's physical constraints.
type BessConfig struct {
	PChargeMaxKw      float64 `yaml:"pChargeMaxKw"`
	PDischargeMaxKw   float64 `yaml:"pDischargeMaxKw"`
	EnergyCapacityKwh float64 `yaml:"energyCapacityKwh"`
	SocMinPct         float64 `yaml:"socMinPct"`
	SocMaxPct         float64 `yaml:"socMaxPct"`
	EtaCharge         float64 `yaml:"etaCharge"`
	EtaDischarge      float64 `yaml:"etaDischarge"`
}

// ModbusConfig selects a device profile and overrides its connection
// defaults.
type ModbusConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Profile   string  `yaml:"profile"`
	Kind      string  `yaml:"kind"`
	Port      string  `yaml:"port"`
	SlaveID   int     `yaml:"slaveId"`
	TimeoutS  float64 `yaml:"timeoutSecs"`
	PollS     float64 `yaml:"pollIntervalSecs"`
	Baudrate  int     `yaml:"baudrate"`
	Parity    string  `yaml:"parity"`
	SyncClock bool    `yaml:"syncClock"`
}

// Connection converts the overrides into a register-layer connection.
func (m ModbusConfig) Connection() modbusreg.Connection {
	return modbusreg.Connection{
		Kind:          modbusreg.ConnectionKind(m.Kind),
		Port:          m.Port,
		SlaveID:       m.SlaveID,
		TimeoutS:      m.TimeoutS,
		PollIntervalS: m.PollS,
		Baudrate:      m.Baudrate,
		Parity:        m.Parity,
	}
}

// MqttConfig connects a site to its inverter's MQTT telemetry.
type MqttConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BrokerURL string `yaml:"brokerUrl"`
	ClientID  string `yaml:"clientId"`
	Topic     string `yaml:"topic"`
	QoS       int    `yaml:"qos"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// SignalConfig maps an external boolean signal onto a status register.
type SignalConfig struct {
	Register string `yaml:"register"`
	Mask     uint16 `yaml:"mask"`
	Equals   *int   `yaml:"equals"`
}

// LimitSignalConfig maps the DSO release percentage onto a status register.
type LimitSignalConfig struct {
	Register string  `yaml:"register"`
	Scale    float64 `yaml:"scale"`
	MinPct   float64 `yaml:"minPct"`
	MaxPct   float64 `yaml:"maxPct"`
}

// WriteConfig maps a command onto a holding register.
type WriteConfig struct {
	Register string  `yaml:"register"`
	Scale    float64 `yaml:"scale"`
	On       int     `yaml:"on"`
	Off      int     `yaml:"off"`
}

// FeedInRuleConfig is one clock-window export limit.
type FeedInRuleConfig struct {
	Window   string  `yaml:"window"`
	Days     string  `yaml:"days"`
	LimitPct float64 `yaml:"limitPct"`
}

// FeedInConfig configures the export limiter.
type FeedInConfig struct {
	Mode          string             `yaml:"mode"`
	FixedLimitPct float64            `yaml:"fixedLimitPct"`
	PVIntegration bool               `yaml:"pvIntegration"`
	Rules         []FeedInRuleConfig `yaml:"rules"`
}

// ParsedRules converts the rule windows, failing on malformed clock times.
func (f FeedInConfig) ParsedRules() ([]ParsedFeedInRule, error) {
	rules := make([]ParsedFeedInRule, 0, len(f.Rules))
	for _, r := range f.Rules {
		window, err := timeutils.ParseClockWindow(r.Window)
		if err != nil {
			return nil, fmt.Errorf("feed-in rule '%s': %w", r.Window, err)
		}
		rules = append(rules, ParsedFeedInRule{
			Window:   timeutils.DayedWindow{ClockWindow: window, Days: timeutils.Days(r.Days)},
			LimitPct: r.LimitPct,
		})
	}
	return rules, nil
}

// ParsedFeedInRule is a FeedInRuleConfig with the window parsed.
type ParsedFeedInRule struct {
	Window   timeutils.DayedWindow
	LimitPct float64
}

// PowerControlConfig configures the DSO/safety enforcement for one site.
type PowerControlConfig struct {
	Enabled             bool               `yaml:"enabled"`
	AutoWrite           bool               `yaml:"autoWrite"`
	MaxPowerKw          float64            `yaml:"maxPowerKw"`
	DsoTrip             *SignalConfig      `yaml:"dsoTrip"`
	SafetyAlarm         *SignalConfig      `yaml:"safetyAlarm"`
	DsoLimitPct         *LimitSignalConfig `yaml:"dsoLimitPct"`
	RemoteEnable        *WriteConfig       `yaml:"remoteEnable"`
	ActivePowerSetW     *WriteConfig       `yaml:"activePowerSetW"`
	ActivePowerLimitPct *WriteConfig       `yaml:"activePowerLimitPct"`
	FeedIn              FeedInConfig       `yaml:"feedIn"`
}

// StrategiesConfig selects and tunes the strategy set.
type StrategiesConfig struct {
	Enabled []string `yaml:"enabled"`

	ArbitrageMinSpreadEurMwh float64 `yaml:"arbitrageMinSpreadEurMwh"`
	ArbitrageMinProfitEur    float64 `yaml:"arbitrageMinProfitEur"`
	PeakThresholdPercentile  float64 `yaml:"peakThresholdPercentile"`
	GridTariffEurKwh         float64 `yaml:"gridTariffEurKwh"`
	FeedinTariffEurKwh       float64 `yaml:"feedinTariffEurKwh"`
	SmoothingWindow          int     `yaml:"smoothingWindow"`
}

// PricesConfig selects the day-ahead price source.
type PricesConfig struct {
	Region   string `yaml:"region"`
	DemoMode bool   `yaml:"demoMode"`
}

// ForecastConfig tunes the PV model.
type ForecastConfig struct {
	PVPeakKw     float64 `yaml:"pvPeakKw"`
	PVEfficiency float64 `yaml:"pvEfficiency"`
}

// SiteConfig is the full configuration of one site.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	EMS          EmsConfig          `yaml:"ems"`
	Bess         BessConfig         `yaml:"bess"`
	Modbus       ModbusConfig       `yaml:"modbus"`
	Mqtt         MqttConfig         `yaml:"mqtt"`
	PowerControl PowerControlConfig `yaml:"powerControl"`
	Strategies   StrategiesConfig   `yaml:"strategies"`
	Prices       PricesConfig       `yaml:"prices"`
	Forecast     ForecastConfig     `yaml:"forecast"`

	HistoryPath string `yaml:"historyPath"`
}

// Config is the root configuration.
type Config struct {
	LogLevel string       `yaml:"logLevel"`
	Sites    []SiteConfig `yaml:"sites"`
}

// Read loads and validates the YAML configuration at path.
func Read(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(content, &config)
	if err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(config.Sites) == 0 {
		return Config{}, fmt.Errorf("no sites configured")
	}
	seen := make(map[string]bool)
	for i := range config.Sites {
		site := &config.Sites[i]
		if site.ID == "" {
			return Config{}, fmt.Errorf("site %d: missing id", i)
		}
		if seen[site.ID] {
			return Config{}, fmt.Errorf("duplicate site id '%s'", site.ID)
		}
		seen[site.ID] = true
		applyDefaults(site)
	}

	return config, nil
}

func applyDefaults(site *SiteConfig) {
	if site.Name == "" {
		site.Name = site.ID
	}
	if site.EMS.TimestepSecs == 0 {
		site.EMS.TimestepSecs = 2
	}
	if site.EMS.OptimizationIntervalSecs == 0 {
		site.EMS.OptimizationIntervalSecs = 900
	}
	if site.EMS.Mode == "" {
		site.EMS.Mode = "auto"
	}
	if site.Strategies.Enabled == nil {
		site.Strategies.Enabled = []string{"arbitrage", "peak_shaving", "self_consumption", "load_balancing"}
	}
	if site.HistoryPath == "" {
		site.HistoryPath = fmt.Sprintf("history_site_%s.db", site.ID)
	}
	if site.Prices.Region == "" {
		site.Prices.Region = "AT"
	}
}
