package channel

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/itohio/gasnode/pkg/config"
	"github.com/itohio/gasnode/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicksDiff(t *testing.T) {
	tests := []struct {
		name  string
		now   uint32
		since uint32
		want  int64
	}{
		{name: "plain", now: 5000, since: 0, want: 5000},
		{name: "equal", now: 42, since: 42, want: 0},
		{name: "behind", now: 0, since: 10, want: -10},
		{name: "wrapped", now: 100, since: math.MaxUint32 - 99, want: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TicksDiff(tt.now, tt.since))
		})
	}
}

func TestChannel_Due(t *testing.T) {
	c := &Channel{ID: 1, Kind: CO2Humidity, Interval: 5 * time.Second}

	assert.False(t, c.Due(4999))
	assert.True(t, c.Due(5000))
	assert.True(t, c.Due(5001))

	c.LastSample = math.MaxUint32 - 1000
	assert.False(t, c.Due(3998))
	assert.True(t, c.Due(3999))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("co2")
	require.NoError(t, err)
	assert.Equal(t, CO2Humidity, k)
	assert.Equal(t, telemetry.LabelCO2, k.Label())

	k, err = ParseKind("o2")
	require.NoError(t, err)
	assert.Equal(t, DissolvedOxygen, k)
	assert.Equal(t, telemetry.LabelO2, k.Label())
	assert.Equal(t, "o2", k.String())

	_, err = ParseKind("GravitySensor")
	assert.True(t, errors.Is(err, telemetry.ErrDomain))
}

func TestNew(t *testing.T) {
	r, err := New([]config.ChannelConfig{
		{ID: 3, Kind: "co2", Interval: 5 * time.Second},
		{ID: 0, Kind: "o2", Interval: 15 * time.Second},
	}, 1234)
	require.NoError(t, err)
	require.Equal(t, 2, r.Len())

	chs := r.Channels()
	assert.Equal(t, 0, chs[0].ID)
	assert.Equal(t, 3, chs[1].ID)
	assert.Equal(t, uint32(1234), chs[0].LastSample)
	assert.Equal(t, uint32(1234), chs[1].LastSample)

	c, ok := r.Get(3)
	require.True(t, ok)
	assert.Equal(t, CO2Humidity, c.Kind)

	_, ok = r.Get(7)
	assert.False(t, ok)
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfgs []config.ChannelConfig
	}{
		{name: "id 16", cfgs: []config.ChannelConfig{{ID: 16, Kind: "co2", Interval: time.Second}}},
		{name: "id -1", cfgs: []config.ChannelConfig{{ID: -1, Kind: "co2", Interval: time.Second}}},
		{name: "duplicate", cfgs: []config.ChannelConfig{{ID: 1, Kind: "co2", Interval: time.Second}, {ID: 1, Kind: "o2", Interval: time.Second}}},
		{name: "kind", cfgs: []config.ChannelConfig{{ID: 1, Kind: "x", Interval: time.Second}}},
		{name: "interval", cfgs: []config.ChannelConfig{{ID: 1, Kind: "co2"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfgs, 0)
			assert.Error(t, err)
		})
	}
}
