package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MaxChannels is the number of lines behind the multiplexer.
	MaxChannels = 16
	// MaxCollectNum is the capacity of the oxygen averaging history.
	MaxCollectNum = 101
)

// Config represents the node configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	I2C       I2CConfig       `yaml:"i2c"`
	Mux       MuxConfig       `yaml:"mux"`
	Channels  []ChannelConfig `yaml:"channels"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	SCD4x     SCD4xConfig     `yaml:"scd4x"`
	Oxygen    OxygenConfig    `yaml:"oxygen"`
	Log       LogConfig       `yaml:"log"`
	Radio     RadioConfig     `yaml:"radio"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Mock      MockConfig      `yaml:"mock"`
}

// DeviceConfig identifies the node.
type DeviceConfig struct {
	Name string `yaml:"name"` // Advertised name, also written as device_id in the log
}

// I2CConfig selects the shared sensor bus.
type I2CConfig struct {
	Bus          string `yaml:"bus"`           // periph bus name, "" for the first bus
	FrequencyKHz int    `yaml:"frequency_khz"` // Bus clock
}

// MuxConfig contains multiplexer wiring.
type MuxConfig struct {
	SelectPins []string      `yaml:"select_pins"` // S3..S0, most significant bit first
	EnablePin  string        `yaml:"enable_pin"`  // Active-low enable
	Settle     time.Duration `yaml:"settle"`      // Delay after switching, at least 10ms
}

// ChannelConfig maps one multiplexer line to a sensor.
type ChannelConfig struct {
	ID       int           `yaml:"id"`
	Kind     string        `yaml:"kind"` // "co2" or "o2"
	Interval time.Duration `yaml:"interval"`
}

// SchedulerConfig contains acquisition loop timing.
type SchedulerConfig struct {
	Tick          time.Duration `yaml:"tick"`           // Poll period of the control loop
	FlushInterval time.Duration `yaml:"flush_interval"` // Batch hand-off period
	VisitSettle   time.Duration `yaml:"visit_settle"`   // Extra wait after select, before the driver runs
}

// SCD4xConfig contains CO2/temperature/humidity sensor parameters.
type SCD4xConfig struct {
	Address      uint16        `yaml:"address"`
	Warmup       time.Duration `yaml:"warmup"`        // Wait after start periodic measurement
	MeasureDelay time.Duration `yaml:"measure_delay"` // Wait between read command and data fetch
}

// OxygenConfig contains dissolved-oxygen sensor parameters.
type OxygenConfig struct {
	Address    uint16        `yaml:"address"`
	CollectNum int           `yaml:"collect_num"` // Moving average window, 1..101
	KeyDelay   time.Duration `yaml:"key_delay"`   // Wait after reading the calibration key
}

// LogConfig contains durable log and diagnostics settings.
type LogConfig struct {
	Dir      string        `yaml:"dir"`       // Mount point of the log storage
	File     string        `yaml:"file"`      // File name under Dir
	TickUnit time.Duration `yaml:"tick_unit"` // Divisor for the logical tick column
	Level    string        `yaml:"level"`     // zerolog level for diagnostics
}

// RadioConfig contains wireless link settings.
type RadioConfig struct {
	Port              string        `yaml:"port"`
	BaudRate          int           `yaml:"baud_rate"`
	FrameDelay        time.Duration `yaml:"frame_delay"`        // Pause between notifications
	AdvertiseInterval time.Duration `yaml:"advertise_interval"` // Advertising interval
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // Listen address, empty disables
}

// MockConfig contains simulation settings used by --mock runs.
type MockConfig struct {
	AutoConnect   time.Duration `yaml:"auto_connect"`   // Delay before the simulated peer attaches (0 = never)
	ChecksumError float64       `yaml:"checksum_error"` // Probability of a corrupted CO2 frame
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name: "ESP32-SensorData-1",
		},
		I2C: I2CConfig{
			Bus:          "",
			FrequencyKHz: 400,
		},
		Mux: MuxConfig{
			SelectPins: []string{"GPIO5", "GPIO4", "GPIO3", "GPIO2"},
			EnablePin:  "GPIO11",
			Settle:     10 * time.Millisecond,
		},
		Channels: defaultChannels(),
		Scheduler: SchedulerConfig{
			Tick:          50 * time.Millisecond,
			FlushInterval: 60 * time.Second,
			VisitSettle:   100 * time.Millisecond,
		},
		SCD4x: SCD4xConfig{
			Address:      0x62,
			Warmup:       2 * time.Second,
			MeasureDelay: time.Second,
		},
		Oxygen: OxygenConfig{
			Address:    0x73,
			CollectNum: 10,
			KeyDelay:   100 * time.Millisecond,
		},
		Log: LogConfig{
			Dir:      "/sd",
			File:     "log_sensors.txt",
			TickUnit: 30 * time.Second,
			Level:    "info",
		},
		Radio: RadioConfig{
			Port:              "/dev/ttyS0",
			BaudRate:          9600,
			FrameDelay:        20 * time.Millisecond,
			AdvertiseInterval: 100 * time.Millisecond,
		},
	}
}

// defaultChannels alternates oxygen sensors on even lines with CO2 sensors on odd lines.
func defaultChannels() []ChannelConfig {
	channels := make([]ChannelConfig, 0, 14)
	for id := 0; id < 14; id++ {
		if id%2 == 0 {
			channels = append(channels, ChannelConfig{ID: id, Kind: "o2", Interval: 15 * time.Second})
		} else {
			channels = append(channels, ChannelConfig{ID: id, Kind: "co2", Interval: 5 * time.Second})
		}
	}
	return channels
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the channel map and bounded parameters.
func (c *Config) Validate() error {
	if len(c.Mux.SelectPins) != 4 {
		return fmt.Errorf("mux: expected 4 select pins, got %d", len(c.Mux.SelectPins))
	}

	seen := make(map[int]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.ID < 0 || ch.ID >= MaxChannels {
			return fmt.Errorf("channel %d: id out of range [0,%d]", ch.ID, MaxChannels-1)
		}
		if seen[ch.ID] {
			return fmt.Errorf("channel %d: duplicate id", ch.ID)
		}
		seen[ch.ID] = true

		if ch.Kind != "co2" && ch.Kind != "o2" {
			return fmt.Errorf("channel %d: unknown sensor kind %q", ch.ID, ch.Kind)
		}
		if ch.Interval <= 0 {
			return fmt.Errorf("channel %d: interval must be positive", ch.ID)
		}
	}

	if c.Oxygen.CollectNum <= 0 || c.Oxygen.CollectNum > MaxCollectNum {
		return fmt.Errorf("oxygen: collect_num %d out of range (0,%d]", c.Oxygen.CollectNum, MaxCollectNum)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Device.Name == "" {
		c.Device.Name = def.Device.Name
	}

	if c.I2C.FrequencyKHz == 0 {
		c.I2C.FrequencyKHz = def.I2C.FrequencyKHz
	}

	if len(c.Mux.SelectPins) == 0 {
		c.Mux.SelectPins = def.Mux.SelectPins
	}
	if c.Mux.EnablePin == "" {
		c.Mux.EnablePin = def.Mux.EnablePin
	}
	if c.Mux.Settle < 10*time.Millisecond {
		c.Mux.Settle = def.Mux.Settle
	}

	if len(c.Channels) == 0 {
		c.Channels = def.Channels
	}

	if c.Scheduler.Tick == 0 {
		c.Scheduler.Tick = def.Scheduler.Tick
	}
	if c.Scheduler.FlushInterval == 0 {
		c.Scheduler.FlushInterval = def.Scheduler.FlushInterval
	}

	if c.SCD4x.Address == 0 {
		c.SCD4x.Address = def.SCD4x.Address
	}
	if c.SCD4x.MeasureDelay == 0 {
		c.SCD4x.MeasureDelay = def.SCD4x.MeasureDelay
	}

	if c.Oxygen.Address == 0 {
		c.Oxygen.Address = def.Oxygen.Address
	}
	if c.Oxygen.CollectNum == 0 {
		c.Oxygen.CollectNum = def.Oxygen.CollectNum
	}

	if c.Log.Dir == "" {
		c.Log.Dir = def.Log.Dir
	}
	if c.Log.File == "" {
		c.Log.File = def.Log.File
	}
	if c.Log.TickUnit == 0 {
		c.Log.TickUnit = def.Log.TickUnit
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}

	if c.Radio.Port == "" {
		c.Radio.Port = def.Radio.Port
	}
	if c.Radio.BaudRate == 0 {
		c.Radio.BaudRate = def.Radio.BaudRate
	}
	if c.Radio.FrameDelay == 0 {
		c.Radio.FrameDelay = def.Radio.FrameDelay
	}
	if c.Radio.AdvertiseInterval == 0 {
		c.Radio.AdvertiseInterval = def.Radio.AdvertiseInterval
	}
}
