package sensor

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/i2c"

	"github.com/itohio/gasnode/pkg/config"
	"github.com/itohio/gasnode/pkg/telemetry"
)

const (
	// SCD4xAddress is the fixed I2C address of the SCD40/SCD41.
	SCD4xAddress = 0x62

	// SCD4xFrameSize is three (word, crc) triples: CO2, temperature, humidity.
	SCD4xFrameSize = 9
)

var (
	cmdStartPeriodicMeasurement = []byte{0x21, 0xB1}
	cmdReadMeasurement          = []byte{0xEC, 0x05}
)

// SCD4x reads CO2 (ppm), temperature (°C) and relative humidity (%) from a
// Sensirion SCD4x running in periodic measurement mode.
type SCD4x struct {
	dev          *i2c.Dev
	measureDelay time.Duration
	sleep        func(time.Duration)
	ok           bool
}

// NewSCD4x starts periodic measurement and waits for the warm-up delay. A sensor
// that is already measuring refuses the start command; that is not an error.
// Any other start failure returns the driver in a non-functional state, so the
// next visit builds a new one and the start command is issued again.
func NewSCD4x(bus i2c.Bus, cfg config.SCD4xConfig, sleep func(time.Duration)) *SCD4x {
	addr := cfg.Address
	if addr == 0 {
		addr = SCD4xAddress
	}

	s := &SCD4x{
		dev:          &i2c.Dev{Bus: bus, Addr: addr},
		measureDelay: cfg.MeasureDelay,
		sleep:        sleeper(sleep),
	}

	if err := s.dev.Tx(cmdStartPeriodicMeasurement, nil); err != nil {
		if isAlreadyRunning(err) {
			log.Debug().Uint16("addr", addr).Msg("scd4x already measuring")
		} else {
			log.Warn().Err(err).Uint16("addr", addr).Msg("scd4x failed to start measurement")
			return s
		}
		s.ok = true
		return s
	}

	s.sleep(cfg.Warmup)
	s.ok = true
	return s
}

// isAlreadyRunning matches the errno Linux reports when the sensor NACKs the
// start command because periodic measurement is active.
func isAlreadyRunning(err error) bool {
	return errors.Is(err, syscall.ENODEV) || errors.Is(err, syscall.ENXIO)
}

// Label implements Sensor.
func (s *SCD4x) Label() telemetry.Label {
	return telemetry.LabelCO2
}

// Healthy implements Sensor. It turns false when the sensor failed to start or
// stopped answering; a sensor that lost power comes back idle and needs a new start.
func (s *SCD4x) Healthy() bool {
	return s.ok
}

// Read issues read_measurement, waits for the acquisition delay and decodes
// the 9-byte frame. A non-functional driver fails without bus traffic.
func (s *SCD4x) Read() (telemetry.Value, error) {
	if !s.ok {
		return nil, fmt.Errorf("scd4x 0x%02X: %w", s.dev.Addr, telemetry.ErrDeviceNotResponding)
	}

	if err := s.dev.Tx(cmdReadMeasurement, nil); err != nil {
		s.ok = false
		return nil, fmt.Errorf("scd4x: read command: %w: %w", telemetry.ErrDeviceNotResponding, err)
	}

	s.sleep(s.measureDelay)

	frame := make([]byte, SCD4xFrameSize)
	if err := s.dev.Tx(nil, frame); err != nil {
		s.ok = false
		return nil, fmt.Errorf("scd4x: read frame: %w: %w", telemetry.ErrDeviceNotResponding, err)
	}

	v, err := DecodeSCD4x(frame)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeSCD4x validates every word of a measurement frame and converts it.
// A single bad checksum rejects the whole frame.
func DecodeSCD4x(frame []byte) (telemetry.CO2Value, error) {
	if len(frame) != SCD4xFrameSize {
		return telemetry.CO2Value{}, fmt.Errorf("scd4x: frame length %d, want %d: %w", len(frame), SCD4xFrameSize, telemetry.ErrDomain)
	}

	var words [3]uint16
	for i := range words {
		w, err := parseWord(frame[i*3 : i*3+3])
		if err != nil {
			return telemetry.CO2Value{}, fmt.Errorf("scd4x: word %d: %w", i, err)
		}
		words[i] = w
	}

	return telemetry.CO2Value{
		PPM:   int(words[0]),
		TempC: DecodeTemperature(words[1]),
		RH:    DecodeHumidity(words[2]),
	}, nil
}

func parseWord(triple []byte) (uint16, error) {
	if got := CRC8(triple[:2]); got != triple[2] {
		return 0, fmt.Errorf("crc 0x%02X, received 0x%02X: %w", got, triple[2], telemetry.ErrChecksumMismatch)
	}
	return uint16(triple[0])<<8 | uint16(triple[1]), nil
}

// DecodeTemperature converts a raw word to °C, rounded to 2 decimals.
func DecodeTemperature(raw uint16) float64 {
	return telemetry.Round2(-45 + 175*float64(raw)/65535)
}

// DecodeHumidity converts a raw word to %RH, rounded to 2 decimals.
func DecodeHumidity(raw uint16) float64 {
	return telemetry.Round2(100 * float64(raw) / 65535)
}

// EncodeSCD4x builds a measurement frame with valid checksums. Used by the
// simulator and tests.
func EncodeSCD4x(co2, temp, rh uint16) []byte {
	frame := make([]byte, 0, SCD4xFrameSize)
	for _, w := range []uint16{co2, temp, rh} {
		word := []byte{byte(w >> 8), byte(w)}
		frame = append(frame, word[0], word[1], CRC8(word))
	}
	return frame
}
