package sensor

import (
	"time"

	"periph.io/x/conn/v3/i2c"

	"github.com/itohio/gasnode/pkg/channel"
	"github.com/itohio/gasnode/pkg/config"
	"github.com/itohio/gasnode/pkg/telemetry"
)

// Sensor is a driver for one device sitting behind a multiplexer line.
type Sensor interface {
	// Label is the wire/log tag of the readings this sensor produces.
	Label() telemetry.Label
	// Read performs one measurement. A failed read returns a nil Value and an
	// error wrapping one of the telemetry sentinels.
	Read() (telemetry.Value, error)
	// Healthy reports whether the driver passed its initialization.
	Healthy() bool
}

var (
	_ Sensor = (*SCD4x)(nil)
	_ Sensor = (*Oxygen)(nil)
)

// Options holds per-kind driver parameters.
type Options struct {
	SCD4x  config.SCD4xConfig
	Oxygen config.OxygenConfig
	Sleep  func(time.Duration) // nil means time.Sleep
}

// OptionsFromConfig extracts driver options from the node configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SCD4x:  cfg.SCD4x,
		Oxygen: cfg.Oxygen,
	}
}

// Factory builds the driver for a sensor kind on the currently selected bus line.
type Factory func(kind channel.Kind, bus i2c.Bus) Sensor

// NewFactory returns the Factory for the closed set of supported kinds.
func NewFactory(opts Options) Factory {
	return func(kind channel.Kind, bus i2c.Bus) Sensor {
		switch kind {
		case channel.DissolvedOxygen:
			return NewOxygen(bus, opts.Oxygen, opts.Sleep)
		default:
			return NewSCD4x(bus, opts.SCD4x, opts.Sleep)
		}
	}
}

func sleeper(fn func(time.Duration)) func(time.Duration) {
	if fn == nil {
		return time.Sleep
	}
	return fn
}
