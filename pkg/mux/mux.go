package mux

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"

	"github.com/itohio/gasnode/pkg/telemetry"
)

const (
	// Channels is the number of downstream lines.
	Channels = 16
	// MinSettle is the shortest settle delay after switching.
	MinSettle = 10 * time.Millisecond
)

// Selector routes the shared bus to one downstream line.
type Selector interface {
	Select(channel int) error
	Disable() error
}

var _ Selector = (*Mux)(nil)

// Mux drives a 16:1 analog multiplexer (CD74HC4067 style): four address pins
// and an active-low enable.
type Mux struct {
	name   string
	pins   [4]gpio.PinOut // most significant bit first
	enable gpio.PinOut
	settle time.Duration
	sleep  func(time.Duration)

	mu sync.Mutex
}

// Option configures a Mux.
type Option func(*Mux)

// WithSettle sets the delay after switching. Values below MinSettle are raised to MinSettle.
func WithSettle(d time.Duration) Option {
	return func(m *Mux) {
		if d < MinSettle {
			d = MinSettle
		}
		m.settle = d
	}
}

// WithSleep replaces time.Sleep, mainly for tests.
func WithSleep(fn func(time.Duration)) Option {
	return func(m *Mux) {
		m.sleep = fn
	}
}

// New creates a multiplexer driver and puts it in the disabled state.
// pins lists the select lines most significant bit first (S3, S2, S1, S0).
func New(name string, pins []gpio.PinOut, enable gpio.PinOut, opts ...Option) (*Mux, error) {
	if len(pins) != 4 {
		return nil, fmt.Errorf("mux %s: expected 4 select pins, got %d", name, len(pins))
	}
	if enable == nil {
		return nil, fmt.Errorf("mux %s: enable pin is required", name)
	}

	m := &Mux{
		name:   name,
		enable: enable,
		settle: MinSettle,
		sleep:  time.Sleep,
	}
	for i, p := range pins {
		if p == nil {
			return nil, fmt.Errorf("mux %s: select pin %d is nil", name, i)
		}
		m.pins[i] = p
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.Disable(); err != nil {
		return nil, err
	}

	return m, nil
}

// Select routes the bus to channel. The enable line is held inactive while the
// address changes so no intermediate line is briefly connected, then asserted,
// and the call returns after the settle delay. An out-of-range channel fails
// without touching any pin.
func (m *Mux) Select(channel int) error {
	if channel < 0 || channel >= Channels {
		return fmt.Errorf("mux %s: channel %d not in [0,%d]: %w", m.name, channel, Channels-1, telemetry.ErrDomain)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enable.Out(gpio.High); err != nil {
		return fmt.Errorf("mux %s: failed to release enable: %w", m.name, err)
	}

	for i, p := range m.pins {
		bit := (channel >> (3 - i)) & 1
		if err := p.Out(gpio.Level(bit == 1)); err != nil {
			return fmt.Errorf("mux %s: failed to drive %s: %w", m.name, p, err)
		}
	}

	if err := m.enable.Out(gpio.Low); err != nil {
		return fmt.Errorf("mux %s: failed to assert enable: %w", m.name, err)
	}

	m.sleep(m.settle)
	log.Debug().Str("mux", m.name).Int("channel", channel).Msg("channel selected")
	return nil
}

// Disable de-asserts enable, leaving every downstream line idle.
func (m *Mux) Disable() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enable.Out(gpio.High); err != nil {
		return fmt.Errorf("mux %s: failed to disable: %w", m.name, err)
	}
	return nil
}

// Address decodes the channel currently driven on the select pins, given their
// levels most significant bit first.
func Address(levels [4]gpio.Level) int {
	ch := 0
	for _, l := range levels {
		ch <<= 1
		if l {
			ch |= 1
		}
	}
	return ch
}
