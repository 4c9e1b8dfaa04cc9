package mqttingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/gridvolt/emscontroller/telemetry"
)

// Config connects the ingestor to one broker and topic.
type Config struct {
	BrokerURL string
	ClientID  string
	Topic     string
	QoS       byte
	Username  string
	Password  string
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = fmt.Sprintf("emscontroller-%s", uuid.New().String()[:8])
	}
	if c.QoS == 0 {
		c.QoS = 1
	}
	return c
}

// Ingestor subscribes to an inverter's MQTT telemetry topic and translates
// each JSON payload into a sample on the Telemetry channel.
//
// Vendor payloads differ in field naming; the ingestor tries a list of
// aliases per field and silently skips values it cannot coerce to a number.
type Ingestor struct {
	Telemetry chan telemetry.Sample

	cfg    Config
	client mqtt.Client
	now    func() time.Time
}

func New(cfg Config) *Ingestor {
	cfg = cfg.withDefaults()

	ing := &Ingestor{
		Telemetry: make(chan telemetry.Sample, 25),
		cfg:       cfg,
		now:       time.Now,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		slog.Info("MQTT connected", "broker", cfg.BrokerURL)
		token := client.Subscribe(cfg.Topic, cfg.QoS, ing.handleMessage)
		go func() {
			if token.Wait() && token.Error() != nil {
				slog.Error("MQTT subscribe failed", "topic", cfg.Topic, "error", token.Error())
			}
		}()
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", "broker", cfg.BrokerURL, "error", err)
	})

	ing.client = mqtt.NewClient(opts)
	return ing
}

// Run connects to the broker and blocks until the context is cancelled. The
// paho client handles reconnects internally.
func (i *Ingestor) Run(ctx context.Context) error {
	token := i.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to broker '%s': %w", i.cfg.BrokerURL, token.Error())
	}

	<-ctx.Done()
	i.client.Disconnect(250)
	slog.Info("MQTT ingestor stopped", "broker", i.cfg.BrokerURL)
	return nil
}

func (i *Ingestor) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	sample, ok := i.Parse(msg.Payload())
	if !ok {
		return
	}

	select {
	case i.Telemetry <- sample:
	default:
		slog.Warn("Telemetry channel full, dropping sample", "topic", i.cfg.Topic)
	}
}

// fieldAliases maps each sample field to its payload keys, tried in order.
var fieldAliases = struct {
	soc, bess, pv, load, grid, voltage, temperature []string
}{
	soc:         []string{"soc", "sys_soc"},
	bess:        []string{"bat_p", "sys_bat_p"},
	pv:          []string{"sys_pv_p"},
	load:        []string{"sys_load_p"},
	grid:        []string{"sys_grid_p", "grid_on_p"},
	voltage:     []string{"voltage", "bat_v", "sys_dc_v"},
	temperature: []string{"temperature", "bat_temp", "cell_temp"},
}

// Parse decodes one payload into a sample. The second return is false when
// the payload is not a JSON object or carries no recognized field. Power
// fields arrive in watts and are converted to kW.
func (i *Ingestor) Parse(payload []byte) (telemetry.Sample, bool) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		slog.Debug("Unparseable MQTT payload", "error", err)
		return telemetry.Sample{}, false
	}

	sample := telemetry.Sample{
		ID:        uuid.New(),
		Timestamp: i.now().UTC(),
		Source:    telemetry.SourceMQTT,
		Raw:       make(map[string]float64),
	}

	found := false

	if v, ok := firstNumber(fields, fieldAliases.soc); ok {
		sample.SocPct = telemetry.Float(v)
		found = true
	}
	if v, ok := firstNumber(fields, fieldAliases.bess); ok {
		sample.PBessKw = telemetry.Float(v / 1000.0)
		found = true
	}
	if v, ok := firstNumber(fields, fieldAliases.pv); ok {
		sample.PPvKw = telemetry.Float(v / 1000.0)
		found = true
	}
	if v, ok := firstNumber(fields, fieldAliases.load); ok {
		sample.PLoadKw = telemetry.Float(v / 1000.0)
		found = true
	}
	if v, ok := firstNumber(fields, fieldAliases.grid); ok {
		sample.PGridKw = telemetry.Float(v / 1000.0)
		found = true
	}
	if v, ok := firstNumber(fields, fieldAliases.voltage); ok {
		sample.VoltageV = telemetry.Float(v)
		found = true
	}
	if v, ok := firstNumber(fields, fieldAliases.temperature); ok {
		sample.TemperatureC = telemetry.Float(v)
		found = true
	}

	if s, ok := fields["bat_sts"].(string); ok && s != "" {
		sample.StatusText = s
		found = true
	}
	if s, ok := firstString(fields, []string{"status_bits", "fault_code"}); ok {
		sample.StatusBits = s
		found = true
	}

	for key, value := range fields {
		if v, ok := coerceFloat(value); ok {
			sample.Raw[key] = v
		}
	}

	if !found {
		return telemetry.Sample{}, false
	}

	sample.DerivePower()
	return sample, true
}

func firstNumber(fields map[string]any, aliases []string) (float64, bool) {
	for _, key := range aliases {
		if raw, present := fields[key]; present {
			if v, ok := coerceFloat(raw); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func firstString(fields map[string]any, aliases []string) (string, bool) {
	for _, key := range aliases {
		switch v := fields[key].(type) {
		case string:
			if v != "" {
				return v, true
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		}
	}
	return "", false
}

func coerceFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
