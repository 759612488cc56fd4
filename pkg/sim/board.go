// Package sim emulates the sensor board: a 16-line multiplexer with one
// sensor behind each configured line, on a simulated I2C bus.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/itohio/gasnode/pkg/channel"
	"github.com/itohio/gasnode/pkg/config"
	"github.com/itohio/gasnode/pkg/mux"
)

var (
	errNoChannel = errors.New("sim: multiplexer disabled")
	errNACK      = errors.New("sim: no acknowledge")
)

type device interface {
	addr() uint16
	tx(w, r []byte) error
	// powerOff drops volatile state, as unplugging the sensor would.
	powerOff()
}

// Board is a simulated multiplexer board.
type Board struct {
	selectPins [4]*gpiotest.Pin
	enablePin  *gpiotest.Pin
	start      time.Time

	mu      sync.Mutex
	devices map[int]device
	offline map[int]bool
}

// New builds a board with an emulated sensor on every configured channel.
func New(cfg *config.Config) (*Board, error) {
	b := &Board{
		enablePin: &gpiotest.Pin{N: cfg.Mux.EnablePin, Num: -1, L: gpio.High},
		start:     time.Now(),
		devices:   make(map[int]device, len(cfg.Channels)),
		offline:   make(map[int]bool),
	}
	for i := range b.selectPins {
		name := fmt.Sprintf("S%d", 3-i)
		if i < len(cfg.Mux.SelectPins) {
			name = cfg.Mux.SelectPins[i]
		}
		b.selectPins[i] = &gpiotest.Pin{N: name, Num: i}
	}

	for _, c := range cfg.Channels {
		kind, err := channel.ParseKind(c.Kind)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", c.ID, err)
		}
		switch kind {
		case channel.DissolvedOxygen:
			b.devices[c.ID] = newOxygen(c.ID, cfg.Oxygen.Address, b.elapsed)
		default:
			b.devices[c.ID] = newSCD4x(c.ID, cfg.SCD4x.Address, cfg.Mock.ChecksumError, b.elapsed)
		}
	}
	return b, nil
}

// SelectPins returns the S3..S0 pins.
func (b *Board) SelectPins() []gpio.PinOut {
	out := make([]gpio.PinOut, len(b.selectPins))
	for i, p := range b.selectPins {
		out[i] = p
	}
	return out
}

// EnablePin returns the active-low enable pin.
func (b *Board) EnablePin() gpio.PinOut {
	return b.enablePin
}

// Bus returns the simulated I2C bus behind the multiplexer.
func (b *Board) Bus() i2c.Bus {
	return &bus{board: b}
}

// Selected returns the line currently routed to the bus.
func (b *Board) Selected() (int, bool) {
	if b.enablePin.Read() == gpio.High {
		return 0, false
	}
	var levels [4]gpio.Level
	for i, p := range b.selectPins {
		levels[i] = p.Read()
	}
	return mux.Address(levels), true
}

// SetOffline unplugs (or replugs) the sensor on a channel. An unplugged sensor
// comes back idle.
func (b *Board) SetOffline(ch int, offline bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offline[ch] = offline
	if d, ok := b.devices[ch]; ok && offline {
		d.powerOff()
	}
}

func (b *Board) elapsed() time.Duration {
	return time.Since(b.start)
}

func (b *Board) tx(addr uint16, w, r []byte) error {
	ch, ok := b.Selected()
	if !ok {
		return errNoChannel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.devices[ch]
	if !ok || b.offline[ch] || d.addr() != addr {
		return fmt.Errorf("channel %d addr 0x%02X: %w", ch, addr, errNACK)
	}
	return d.tx(w, r)
}

type bus struct {
	board *Board
}

var _ i2c.Bus = (*bus)(nil)

func (b *bus) String() string { return "sim-i2c" }

func (b *bus) SetSpeed(physic.Frequency) error { return nil }

func (b *bus) Tx(addr uint16, w, r []byte) error {
	return b.board.tx(addr, w, r)
}
