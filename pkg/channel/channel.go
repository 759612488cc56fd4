package channel

import (
	"fmt"
	"sort"
	"time"

	"github.com/itohio/gasnode/pkg/config"
	"github.com/itohio/gasnode/pkg/telemetry"
)

// Count is the number of multiplexer lines.
const Count = config.MaxChannels

// Kind is the closed set of sensors a channel can carry.
type Kind int

const (
	CO2Humidity Kind = iota
	DissolvedOxygen
)

// ParseKind maps the configuration name of a sensor kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "co2":
		return CO2Humidity, nil
	case "o2":
		return DissolvedOxygen, nil
	}
	return 0, fmt.Errorf("unknown sensor kind %q: %w", s, telemetry.ErrDomain)
}

func (k Kind) String() string {
	switch k {
	case CO2Humidity:
		return "co2"
	case DissolvedOxygen:
		return "o2"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Label returns the wire/log tag for readings of this kind.
func (k Kind) Label() telemetry.Label {
	if k == DissolvedOxygen {
		return telemetry.LabelO2
	}
	return telemetry.LabelCO2
}

// Channel is the scheduling state of one multiplexer line.
// LastSample is written only by the scheduler.
type Channel struct {
	ID         int
	Kind       Kind
	Interval   time.Duration
	LastSample uint32 // tick clock, milliseconds
}

// Due reports whether the interval has elapsed at tick now.
func (c *Channel) Due(now uint32) bool {
	return TicksDiff(now, c.LastSample) >= c.Interval.Milliseconds()
}

// TicksDiff returns now-since on a wrapping 32-bit millisecond counter.
// The result is correct as long as the true distance is below 2^31 ms.
func TicksDiff(now, since uint32) int64 {
	return int64(int32(now - since))
}

// Registry is the static channel map, ordered by channel id.
type Registry struct {
	channels []*Channel
}

// New builds a registry from configuration. All channels start with LastSample = start.
func New(cfgs []config.ChannelConfig, start uint32) (*Registry, error) {
	r := &Registry{channels: make([]*Channel, 0, len(cfgs))}
	seen := make(map[int]bool, len(cfgs))

	for _, c := range cfgs {
		if c.ID < 0 || c.ID >= Count {
			return nil, fmt.Errorf("channel %d: %w", c.ID, telemetry.ErrDomain)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("channel %d: duplicate id", c.ID)
		}
		seen[c.ID] = true

		kind, err := ParseKind(c.Kind)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", c.ID, err)
		}
		if c.Interval <= 0 {
			return nil, fmt.Errorf("channel %d: interval must be positive: %w", c.ID, telemetry.ErrDomain)
		}

		r.channels = append(r.channels, &Channel{
			ID:         c.ID,
			Kind:       kind,
			Interval:   c.Interval,
			LastSample: start,
		})
	}

	sort.Slice(r.channels, func(i, j int) bool { return r.channels[i].ID < r.channels[j].ID })
	return r, nil
}

// Channels returns the channels in id order. The pointers are owned by the registry.
func (r *Registry) Channels() []*Channel {
	return r.channels
}

// Get returns the channel with the given id.
func (r *Registry) Get(id int) (*Channel, bool) {
	for _, c := range r.channels {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// Len returns the number of configured channels.
func (r *Registry) Len() int {
	return len(r.channels)
}
