package radio

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gasnode/pkg/telemetry"
)

func readings(from, n int) telemetry.Batch {
	b := make(telemetry.Batch, 0, n)
	for i := from; i < from+n; i++ {
		b = append(b, telemetry.Reading{
			Timestamp: float64(i),
			Channel:   i,
			Label:     telemetry.LabelO2,
			Value:     telemetry.O2Value(20.9),
		})
	}
	return b
}

func decodeFrames(t *testing.T, frames [][]byte) [][]telemetry.Reading {
	t.Helper()
	out := make([][]telemetry.Reading, 0, len(frames))
	for _, f := range frames {
		var rs []telemetry.Reading
		require.NoError(t, json.Unmarshal(f, &rs))
		out = append(out, rs)
	}
	return out
}

func newTestSink(m *Mock, opts ...Option) *Sink {
	opts = append([]Option{WithSleep(func(time.Duration) {})}, opts...)
	return NewSink(m, "ESP32-SensorData-1", opts...)
}

func TestSink_SendDisconnectedBuffersAndEnables(t *testing.T) {
	m := NewMock()
	s := newTestSink(m)

	res := s.Send(readings(0, 3))

	assert.Equal(t, Buffered, res.Status)
	assert.Equal(t, 0, res.Frames)
	assert.Equal(t, 3, res.Pending)
	assert.NoError(t, res.Err)
	assert.True(t, s.Enabled())
	assert.True(t, m.IsActive())
	assert.Empty(t, m.Frames())
	assert.Len(t, s.Pending(), 3)

	want, err := AdvertisingPayload("ESP32-SensorData-1")
	require.NoError(t, err)
	assert.Equal(t, want, m.Advertised())
	require.Len(t, m.Services(), 1)
	assert.Equal(t, TelemetryService, m.Services()[0])
}

func TestSink_SendConnectedDeliversInFrames(t *testing.T) {
	m := NewMock()
	s := newTestSink(m)
	require.NoError(t, s.Enable())
	m.Connect(7)
	require.Equal(t, ConnectionState{Connected: true, Peer: 7}, s.State())

	res := s.Send(readings(0, 5))

	assert.Equal(t, Delivered, res.Status)
	assert.Equal(t, 3, res.Frames)
	assert.Equal(t, 0, res.Pending)
	assert.NoError(t, res.Err)

	frames := decodeFrames(t, m.Frames())
	require.Len(t, frames, 3)
	assert.Len(t, frames[0], 2)
	assert.Len(t, frames[1], 2)
	assert.Len(t, frames[2], 1)
	assert.Equal(t, 0, frames[0][0].Channel)
	assert.Equal(t, 4, frames[2][0].Channel)
	assert.Equal(t, telemetry.O2Value(20.9), frames[1][1].Value)

	assert.Empty(t, s.Pending())
	assert.False(t, s.Enabled())
	assert.False(t, m.IsActive())
	assert.False(t, s.State().Connected)
}

func TestSink_SendFrameFailureKeepsTail(t *testing.T) {
	m := NewMock()
	s := newTestSink(m)
	require.NoError(t, s.Enable())
	m.Connect(1)
	m.FailNotify(2, errors.New("link dropped"))

	res := s.Send(readings(0, 5))

	assert.Equal(t, PartiallyDelivered, res.Status)
	assert.Equal(t, 1, res.Frames)
	assert.Equal(t, 3, res.Pending)
	assert.ErrorIs(t, res.Err, telemetry.ErrLinkUnavailable)
	assert.True(t, s.Enabled())

	pending := s.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, []int{2, 3, 4}, []int{pending[0].Channel, pending[1].Channel, pending[2].Channel})

	res = s.Send(nil)
	assert.Equal(t, Delivered, res.Status)
	assert.Equal(t, 2, res.Frames)

	frames := decodeFrames(t, m.Frames())
	require.Len(t, frames, 3)
	assert.Equal(t, 2, frames[1][0].Channel)
	assert.Equal(t, 4, frames[2][0].Channel)
}

func TestSink_RetryBufferGoesFirst(t *testing.T) {
	m := NewMock()
	s := newTestSink(m)

	res := s.Send(readings(0, 2))
	require.Equal(t, Buffered, res.Status)

	m.Connect(3)
	res = s.Send(readings(10, 1))
	require.Equal(t, Delivered, res.Status)

	frames := decodeFrames(t, m.Frames())
	require.Len(t, frames, 2)
	assert.Equal(t, 0, frames[0][0].Channel)
	assert.Equal(t, 1, frames[0][1].Channel)
	assert.Equal(t, 10, frames[1][0].Channel)
}

func TestSink_DisconnectBetweenSends(t *testing.T) {
	m := NewMock()
	s := newTestSink(m)
	require.NoError(t, s.Enable())
	m.Connect(1)
	m.Disconnect()

	res := s.Send(readings(0, 1))

	assert.Equal(t, Buffered, res.Status)
	assert.Empty(t, m.Frames())
	assert.True(t, s.Enabled())
}

func TestSink_FrameDelay(t *testing.T) {
	m := NewMock()
	var slept []time.Duration
	s := NewSink(m, "node", WithFrameDelay(5*time.Millisecond), WithSleep(func(d time.Duration) {
		slept = append(slept, d)
	}))
	require.NoError(t, s.Enable())
	m.Connect(1)

	s.Send(readings(0, 3))

	assert.Equal(t, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond}, slept)
}

func TestSink_EnableNameTooLong(t *testing.T) {
	m := NewMock()
	s := newTestSink(m)
	s.name = "a-node-name-that-is-far-too-long-to-advertise"

	res := s.Send(readings(0, 1))

	assert.Equal(t, Buffered, res.Status)
	assert.ErrorIs(t, res.Err, telemetry.ErrDomain)
	assert.False(t, s.Enabled())
	assert.Equal(t, 1, res.Pending)
}

func TestSink_HandleEvent(t *testing.T) {
	s := newTestSink(NewMock())
	assert.Equal(t, ConnectionState{}, s.State())

	s.HandleEvent(Event{Kind: EventConnected, Peer: 65535})
	assert.Equal(t, ConnectionState{Connected: true, Peer: 65535}, s.State())

	s.HandleEvent(Event{Kind: EventDisconnected, Peer: 65535})
	assert.Equal(t, ConnectionState{}, s.State())
}

func TestSink_Deliver(t *testing.T) {
	m := NewMock()
	s := newTestSink(m)
	require.NoError(t, s.Enable())
	m.Connect(1)

	s.Deliver(readings(0, 4))

	assert.Len(t, m.Frames(), 2)
	assert.Empty(t, s.Pending())
}

func TestMock_AutoConnect(t *testing.T) {
	m := NewMock(WithAutoConnect(time.Millisecond))
	s := newTestSink(m)

	res := s.Send(readings(0, 1))
	require.Equal(t, Buffered, res.Status)

	require.Eventually(t, func() bool { return s.State().Connected }, time.Second, time.Millisecond)

	res = s.Send(nil)
	assert.Equal(t, Delivered, res.Status)
	assert.Len(t, m.Frames(), 1)
}

func TestSink_EnableKeepsLiveConnection(t *testing.T) {
	m := NewMock()
	s := newTestSink(m)

	res := s.Send(readings(0, 1))
	require.Equal(t, Buffered, res.Status)

	// the central attaches right before the radio is enabled again
	m.Connect(4)
	require.NoError(t, s.Enable())
	assert.Equal(t, ConnectionState{Connected: true, Peer: 4}, s.State())

	res = s.Send(readings(1, 1))
	assert.Equal(t, Delivered, res.Status)
	assert.Len(t, m.Frames(), 1)
}

func TestSink_EnableFromOffResetsLink(t *testing.T) {
	s := newTestSink(NewMock())
	s.HandleEvent(Event{Kind: EventConnected, Peer: 9})

	require.NoError(t, s.Enable())
	assert.Equal(t, ConnectionState{}, s.State())
}
