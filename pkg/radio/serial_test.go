package radio

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/itohio/gasnode/pkg/telemetry"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Event
		wantOK  bool
		wantErr bool
	}{
		{name: "connect without peer", line: "OK+CONN", want: Event{Kind: EventConnected}, wantOK: true},
		{name: "connect with peer", line: "OK+CONN:12", want: Event{Kind: EventConnected, Peer: 12}, wantOK: true},
		{name: "lost", line: "OK+LOST", want: Event{Kind: EventDisconnected}, wantOK: true},
		{name: "command response", line: "OK+Set:100"},
		{name: "plain ok", line: "OK"},
		{name: "invalid peer", line: "OK+CONN:abc", wantErr: true},
		{name: "peer out of range", line: "OK+CONN:70000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := parseStatus(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, ev)
		})
	}
}

// fakePort feeds module output from a pipe and records everything written.
type fakePort struct {
	serial.Port

	r *io.PipeReader

	mu  sync.Mutex
	out bytes.Buffer
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *fakePort) Close() error { return p.r.Close() }

func (p *fakePort) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

func newFakeSerial(t *testing.T) (*Serial, *fakePort, *io.PipeWriter) {
	t.Helper()
	r, w := io.Pipe()
	port := &fakePort{r: r}
	d := NewSerial("/dev/fake", 0)
	d.open = func(name string, mode *serial.Mode) (serial.Port, error) {
		assert.Equal(t, "/dev/fake", name)
		assert.Equal(t, DefaultBaudRate, mode.BaudRate)
		return port, nil
	}
	return d, port, w
}

func TestSerial_Lifecycle(t *testing.T) {
	d, port, w := newFakeSerial(t)

	var mu sync.Mutex
	var events []Event
	d.SetEventHandler(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	require.NoError(t, d.Active(true))
	h, err := d.RegisterService(TelemetryService)
	require.NoError(t, err)
	assert.Equal(t, Handle(1), h)
	require.NoError(t, d.Advertise(100*time.Millisecond, []byte{0x02, 0x01, 0x06}))

	assert.Equal(t, "AT\r\n"+
		"AT+UUID"+ServiceUUID+"\r\n"+
		"AT+CHAR"+CharacteristicUUID+"\r\n"+
		"AT+ADVI100\r\n"+
		"AT+ADVD020106\r\n"+
		"AT+START\r\n", port.written())

	err = d.Notify(0, h, []byte("x"))
	assert.ErrorIs(t, err, telemetry.ErrLinkUnavailable)

	_, err = w.Write([]byte("OK+Set:100\r\nOK+CONN:5\r\n"))
	require.NoError(t, err)
	require.Eventually(t, d.IsConnected, time.Second, time.Millisecond)

	require.NoError(t, d.Write(h, []byte(`[{"channel":1}]`)))
	require.NoError(t, d.Notify(5, h, []byte(`[{"channel":1}]`)))
	assert.Contains(t, port.written(), `AT+START`+"\r\n"+`[{"channel":1}]`)

	_, err = w.Write([]byte("OK+LOST\r\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !d.IsConnected() }, time.Second, time.Millisecond)

	_, err = w.Write([]byte("OK+CONN\r\n"))
	require.NoError(t, err)
	require.Eventually(t, d.IsConnected, time.Second, time.Millisecond)

	require.NoError(t, d.Active(false))
	assert.False(t, d.IsConnected())
	assert.Contains(t, port.written(), "AT+SLEEP\r\n")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Event{
		{Kind: EventConnected, Peer: 5},
		{Kind: EventDisconnected, Peer: 5},
		{Kind: EventConnected, Peer: 0},
		{Kind: EventDisconnected, Peer: 0},
	}, events)
}

func TestSerial_NotOpen(t *testing.T) {
	d := NewSerial("/dev/none", 0)

	assert.Error(t, d.Write(1, []byte("x")))
	assert.Error(t, d.Notify(1, 1, []byte("x")))
	_, err := d.RegisterService(TelemetryService)
	assert.Error(t, err)
	assert.NoError(t, d.Active(false))
}

func TestSerial_OpenFailure(t *testing.T) {
	d := NewSerial("/dev/none", 0)
	d.open = func(string, *serial.Mode) (serial.Port, error) {
		return nil, errors.New("no such device")
	}

	err := d.Active(true)
	assert.ErrorContains(t, err, "/dev/none")
}

func TestSerial_WithSink(t *testing.T) {
	d, port, w := newFakeSerial(t)
	s := NewSink(d, "node", WithSleep(func(time.Duration) {}))

	res := s.Send(readings(0, 3))
	require.Equal(t, Buffered, res.Status)

	_, err := w.Write([]byte("OK+CONN:9\r\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.State().Connected }, time.Second, time.Millisecond)

	res = s.Send(nil)
	assert.Equal(t, Delivered, res.Status)
	assert.Equal(t, 2, res.Frames)
	assert.Contains(t, port.written(), `"sensor_type":"O2"`)
	assert.False(t, s.State().Connected)
}
