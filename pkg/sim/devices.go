package sim

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"syscall"
	"time"

	"github.com/itohio/gasnode/pkg/sensor"
)

var (
	scd4xStart = []byte{0x21, 0xB1}
	scd4xRead  = []byte{0xEC, 0x05}
)

// scd4x emulates a Sensirion SCD4x in periodic measurement mode.
type scd4x struct {
	address       uint16
	phase         float64
	checksumError float64
	elapsed       func() time.Duration

	running bool
	ready   bool
}

func newSCD4x(ch int, address uint16, checksumError float64, elapsed func() time.Duration) *scd4x {
	if address == 0 {
		address = sensor.SCD4xAddress
	}
	return &scd4x{
		address:       address,
		phase:         float64(ch),
		checksumError: checksumError,
		elapsed:       elapsed,
	}
}

func (s *scd4x) addr() uint16 { return s.address }

func (s *scd4x) powerOff() {
	s.running = false
	s.ready = false
}

func (s *scd4x) tx(w, r []byte) error {
	switch {
	case bytes.Equal(w, scd4xStart):
		if s.running {
			// the real sensor NACKs start while measuring
			return fmt.Errorf("scd4x busy: %w", syscall.ENXIO)
		}
		s.running = true
		return nil
	case bytes.Equal(w, scd4xRead):
		s.ready = s.running
		return nil
	case len(w) == 0 && len(r) == sensor.SCD4xFrameSize:
		if !s.ready {
			return errNACK
		}
		s.ready = false
		copy(r, s.frame())
		return nil
	}
	return errNACK
}

func (s *scd4x) frame() []byte {
	t := s.elapsed().Seconds()

	co2 := 650 + 180*math.Sin(t/90+s.phase) + noise(5)
	temp := 22 + 1.5*math.Sin(t/300+s.phase) + noise(0.05)
	rh := 45 + 6*math.Cos(t/240+s.phase) + noise(0.2)

	frame := sensor.EncodeSCD4x(
		uint16(clamp(co2, 0, 40000)),
		uint16(clamp((temp+45)/175*65535, 0, 65535)),
		uint16(clamp(rh/100*65535, 0, 65535)),
	)
	if s.checksumError > 0 && rand.Float64() < s.checksumError {
		frame[0] ^= 0x01
	}
	return frame
}

const (
	oxygenData    = 0x03
	oxygenUserSet = 0x08
	oxygenAutoSet = 0x09
	oxygenKey     = 0x0A
)

// oxygen emulates the DFRobot Gravity oxygen register file.
type oxygen struct {
	address uint16
	phase   float64
	elapsed func() time.Duration

	selected byte
	key      byte
}

func newOxygen(ch int, address uint16, elapsed func() time.Duration) *oxygen {
	if address == 0 {
		address = sensor.OxygenAddress3
	}
	return &oxygen{
		address: address,
		phase:   float64(ch),
		elapsed: elapsed,
	}
}

func (o *oxygen) addr() uint16 { return o.address }

// powerOff keeps the calibration key, which the sensor stores in flash.
func (o *oxygen) powerOff() {
	o.selected = 0
}

func (o *oxygen) tx(w, r []byte) error {
	switch len(w) {
	case 1:
		o.selected = w[0]
		return nil
	case 2:
		if w[0] != oxygenUserSet && w[0] != oxygenAutoSet {
			return errNACK
		}
		o.key = w[1]
		return nil
	case 0:
	default:
		return errNACK
	}

	switch o.selected {
	case oxygenKey:
		if len(r) > 0 {
			r[0] = o.key
		}
	case oxygenData:
		copy(r, o.sample())
	default:
		return errNACK
	}
	return nil
}

// sample encodes the current concentration as integer, tenths and hundredths
// of the uncalibrated reading.
func (o *oxygen) sample() []byte {
	t := o.elapsed().Seconds()
	vol := 20.9 - 0.4*math.Sin(t/120+o.phase) + noise(0.02)

	key := sensor.DefaultOxygenKey
	if o.key != 0 {
		key = float64(o.key) / 1000
	}
	raw := clamp(vol/key, 0, 255.99)

	whole := math.Floor(raw)
	tenths := math.Floor((raw - whole) * 10)
	hundredths := math.Floor((raw - whole - tenths/10) * 100)
	return []byte{byte(whole), byte(tenths), byte(clamp(hundredths, 0, 9))}
}

func noise(amplitude float64) float64 {
	return (rand.Float64()*2 - 1) * amplitude
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
