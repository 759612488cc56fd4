package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/itohio/gasnode/pkg/config"
	"github.com/itohio/gasnode/pkg/mux"
	"github.com/itohio/gasnode/pkg/sim"
)

// hardware is the sensor bus and the multiplexer in front of it.
type hardware struct {
	bus   i2c.Bus
	mux   *mux.Mux
	close func() error
}

// openHardware opens the real I2C bus and GPIO pins, or the simulated board.
func openHardware(cfg *config.Config, mock bool) (*hardware, error) {
	if mock {
		return openSim(cfg)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	bus, err := i2creg.Open(cfg.I2C.Bus)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", cfg.I2C.Bus, err)
	}
	if err := bus.SetSpeed(physic.Frequency(cfg.I2C.FrequencyKHz) * physic.KiloHertz); err != nil {
		log.Warn().Err(err).Int("khz", cfg.I2C.FrequencyKHz).Msg("failed to set i2c speed")
	}

	pins := make([]gpio.PinOut, 0, len(cfg.Mux.SelectPins))
	for _, name := range cfg.Mux.SelectPins {
		p := gpioreg.ByName(name)
		if p == nil {
			bus.Close()
			return nil, fmt.Errorf("unknown select pin %q", name)
		}
		pins = append(pins, p)
	}
	enable := gpioreg.ByName(cfg.Mux.EnablePin)
	if enable == nil {
		bus.Close()
		return nil, fmt.Errorf("unknown enable pin %q", cfg.Mux.EnablePin)
	}

	m, err := mux.New(bus.String(), pins, enable, mux.WithSettle(cfg.Mux.Settle))
	if err != nil {
		bus.Close()
		return nil, err
	}

	log.Info().Str("bus", bus.String()).Strs("select", cfg.Mux.SelectPins).Str("enable", cfg.Mux.EnablePin).Msg("hardware ready")
	return &hardware{bus: bus, mux: m, close: bus.Close}, nil
}

func openSim(cfg *config.Config) (*hardware, error) {
	board, err := sim.New(cfg)
	if err != nil {
		return nil, err
	}
	m, err := mux.New("sim", board.SelectPins(), board.EnablePin(), mux.WithSettle(cfg.Mux.Settle))
	if err != nil {
		return nil, err
	}
	log.Info().Int("channels", len(cfg.Channels)).Msg("using simulated board")
	return &hardware{bus: board.Bus(), mux: m, close: func() error { return nil }}, nil
}

// Close releases the multiplexer and the bus.
func (h *hardware) Close() error {
	if err := h.mux.Disable(); err != nil {
		log.Warn().Err(err).Msg("failed to disable mux")
	}
	return h.close()
}
