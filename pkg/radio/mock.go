package radio

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

var errMockNotActive = errors.New("mock radio is off")

// Mock is an in-memory Transport. It records notified frames and lets tests
// attach and detach a central or inject notification failures. With an
// auto-connect delay a central attaches by itself after advertising starts.
type Mock struct {
	mu          sync.Mutex
	active      bool
	handler     func(Event)
	peer        uint16
	connected   bool
	handle      Handle
	services    []Service
	advertised  []byte
	interval    time.Duration
	value       []byte
	frames      [][]byte
	notifies    int
	failures    map[int]error
	autoConnect time.Duration
	timer       *time.Timer
}

var _ Transport = (*Mock)(nil)

// MockOption configures a Mock.
type MockOption func(*Mock)

// WithAutoConnect makes a central attach d after advertising starts.
func WithAutoConnect(d time.Duration) MockOption {
	return func(m *Mock) {
		m.autoConnect = d
	}
}

// NewMock creates a powered-off mock radio.
func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		handle:   1,
		failures: make(map[int]error),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mock) Active(on bool) error {
	m.mu.Lock()
	m.active = on
	if on {
		m.mu.Unlock()
		return nil
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	m.Disconnect()
	return nil
}

func (m *Mock) SetEventHandler(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

func (m *Mock) RegisterService(svc Service) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return 0, errMockNotActive
	}
	m.services = append(m.services, svc)
	return m.handle, nil
}

func (m *Mock) Advertise(interval time.Duration, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return errMockNotActive
	}
	m.interval = interval
	m.advertised = bytes.Clone(payload)

	if m.autoConnect > 0 && !m.connected {
		if m.timer != nil {
			m.timer.Stop()
		}
		m.timer = time.AfterFunc(m.autoConnect, func() { m.Connect(1) })
	}
	return nil
}

func (m *Mock) Write(h Handle, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return errMockNotActive
	}
	m.value = bytes.Clone(data)
	return nil
}

func (m *Mock) Notify(peer uint16, h Handle, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifies++
	if err, ok := m.failures[m.notifies]; ok {
		delete(m.failures, m.notifies)
		return err
	}
	if !m.active {
		return errMockNotActive
	}
	if !m.connected || peer != m.peer {
		return errors.New("mock radio: peer not connected")
	}
	m.frames = append(m.frames, bytes.Clone(data))
	return nil
}

// Connect attaches a central with the given handle.
func (m *Mock) Connect(peer uint16) {
	m.mu.Lock()
	if !m.active || m.connected {
		m.mu.Unlock()
		return
	}
	m.connected = true
	m.peer = peer
	fn := m.handler
	m.mu.Unlock()

	if fn != nil {
		fn(Event{Kind: EventConnected, Peer: peer})
	}
}

// Disconnect detaches the central, if any.
func (m *Mock) Disconnect() {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return
	}
	m.connected = false
	peer := m.peer
	fn := m.handler
	m.mu.Unlock()

	if fn != nil {
		fn(Event{Kind: EventDisconnected, Peer: peer})
	}
}

// FailNotify makes the n-th Notify call from now on fail with err.
func (m *Mock) FailNotify(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[m.notifies+n] = err
}

// Frames returns the notified payloads in order.
func (m *Mock) Frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.frames))
	copy(out, m.frames)
	return out
}

// Advertised returns the last advertising payload.
func (m *Mock) Advertised() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.advertised)
}

// Services returns the registered services.
func (m *Mock) Services() []Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Service(nil), m.services...)
}

// IsActive reports whether the radio is powered.
func (m *Mock) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
