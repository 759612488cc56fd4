package radio

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itohio/gasnode/pkg/metrics"
	"github.com/itohio/gasnode/pkg/telemetry"
)

// Status is the outcome of a Send.
type Status int

const (
	// Buffered: no peer was connected, everything stays in the retry buffer.
	Buffered Status = iota
	// Delivered: every pending reading was notified.
	Delivered
	// PartiallyDelivered: a frame failed, that frame and the rest stay buffered.
	PartiallyDelivered
)

func (s Status) String() string {
	switch s {
	case Buffered:
		return "buffered"
	case Delivered:
		return "delivered"
	case PartiallyDelivered:
		return "partially delivered"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result reports what a Send did.
type Result struct {
	Status  Status
	Frames  int // frames notified successfully
	Pending int // readings left in the retry buffer
	Err     error
}

const noPeer int32 = -1

// Sink forwards flushed batches to a connected central. Undelivered readings
// accumulate in a retry buffer that is flushed first on the next Send. The
// radio is powered only while there is something to deliver.
//
// Link state is written by the transport's event handler and read by Send;
// the retry buffer is owned by Send under mu.
type Sink struct {
	transport   Transport
	name        string
	frameDelay  time.Duration
	advInterval time.Duration
	sleep       func(time.Duration)
	metrics     *metrics.Collector

	peer    atomic.Int32
	enabled atomic.Bool

	mu     sync.Mutex
	handle Handle
	retry  telemetry.Batch
}

// Option configures a Sink.
type Option func(*Sink)

// WithFrameDelay sets the pause after each notification.
func WithFrameDelay(d time.Duration) Option {
	return func(s *Sink) {
		if d >= 0 {
			s.frameDelay = d
		}
	}
}

// WithAdvertiseInterval sets the advertising interval.
func WithAdvertiseInterval(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.advInterval = d
		}
	}
}

// WithSleep replaces time.Sleep, for tests.
func WithSleep(fn func(time.Duration)) Option {
	return func(s *Sink) {
		s.sleep = fn
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Sink) {
		s.metrics = c
	}
}

// NewSink creates a sink advertising as name over transport. The radio starts
// powered off.
func NewSink(transport Transport, name string, opts ...Option) *Sink {
	s := &Sink{
		transport:   transport,
		name:        name,
		frameDelay:  DefaultFrameDelay,
		advInterval: DefaultAdvertiseInterval,
		sleep:       time.Sleep,
	}
	s.peer.Store(noPeer)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleEvent applies a link event. It is safe to call from any goroutine.
func (s *Sink) HandleEvent(ev Event) {
	switch ev.Kind {
	case EventConnected:
		s.peer.Store(int32(ev.Peer))
		s.metrics.SetLink(true)
		log.Info().Uint16("peer", ev.Peer).Msg("central connected")
	case EventDisconnected:
		s.peer.Store(noPeer)
		s.metrics.SetLink(false)
		log.Info().Uint16("peer", ev.Peer).Msg("central disconnected")
	}
}

// State returns the current link state.
func (s *Sink) State() ConnectionState {
	p := s.peer.Load()
	if p == noPeer {
		return ConnectionState{}
	}
	return ConnectionState{Connected: true, Peer: uint16(p)}
}

// Enabled reports whether the radio is powered.
func (s *Sink) Enabled() bool {
	return s.enabled.Load()
}

// Pending returns a copy of the retry buffer.
func (s *Sink) Pending() telemetry.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry.Clone()
}

// Enable powers the radio, registers the telemetry service and starts
// advertising. Powering a radio that was off resets the link state to
// disconnected.
func (s *Sink) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enable()
}

func (s *Sink) enable() error {
	payload, err := AdvertisingPayload(s.name)
	if err != nil {
		return err
	}

	// a connection reported while the radio is already on is kept
	if !s.enabled.Load() {
		s.peer.Store(noPeer)
		s.metrics.SetLink(false)
	}
	s.transport.SetEventHandler(s.HandleEvent)

	if err := s.transport.Active(true); err != nil {
		return fmt.Errorf("activate radio: %w: %w", telemetry.ErrLinkUnavailable, err)
	}
	h, err := s.transport.RegisterService(TelemetryService)
	if err != nil {
		return fmt.Errorf("register service: %w: %w", telemetry.ErrLinkUnavailable, err)
	}
	s.handle = h
	if err := s.transport.Advertise(s.advInterval, payload); err != nil {
		return fmt.Errorf("advertise: %w: %w", telemetry.ErrLinkUnavailable, err)
	}

	s.enabled.Store(true)
	s.metrics.SetRadioEnabled(true)
	log.Info().Str("name", s.name).Dur("interval", s.advInterval).Msg("radio advertising")
	return nil
}

// Disable powers the radio off.
func (s *Sink) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disable()
}

func (s *Sink) disable() error {
	s.enabled.Store(false)
	s.metrics.SetRadioEnabled(false)
	if err := s.transport.Active(false); err != nil {
		return fmt.Errorf("deactivate radio: %w: %w", telemetry.ErrLinkUnavailable, err)
	}
	log.Debug().Msg("radio off")
	return nil
}

// Deliver hands a flushed batch to the radio. Failures only grow the retry buffer.
func (s *Sink) Deliver(batch telemetry.Batch) {
	res := s.Send(batch)
	ev := log.Debug()
	if res.Err != nil {
		ev = log.Warn().Err(res.Err)
	}
	ev.Stringer("status", res.Status).Int("frames", res.Frames).Int("pending", res.Pending).Msg("radio send")
}

// Send appends batch to the retry buffer and, when a central is connected,
// notifies the whole buffer in frames of at most FrameReadings readings. On a
// frame failure the failed frame and everything after it stay buffered and the
// radio stays on. After a full delivery the buffer is empty and the radio is
// powered off. Without a central the radio is (re)enabled to advertise.
func (s *Sink) Send(batch telemetry.Batch) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.retry = append(s.retry, batch...)
	defer func() { s.metrics.SetRetryBuffer(len(s.retry)) }()

	state := s.State()
	if !state.Connected || !s.enabled.Load() {
		res := Result{Status: Buffered, Pending: len(s.retry)}
		if err := s.enable(); err != nil {
			res.Err = err
		}
		return res
	}

	pending := s.retry
	frames := 0
	for i := 0; i < len(pending); i += FrameReadings {
		end := min(i+FrameReadings, len(pending))
		if err := s.sendFrame(state.Peer, pending[i:end]); err != nil {
			s.retry = append(telemetry.Batch(nil), pending[i:]...)
			return Result{Status: PartiallyDelivered, Frames: frames, Pending: len(s.retry), Err: err}
		}
		frames++
	}

	s.retry = nil
	res := Result{Status: Delivered, Frames: frames}
	if err := s.disable(); err != nil {
		res.Err = err
	}
	return res
}

func (s *Sink) sendFrame(peer uint16, frame telemetry.Batch) error {
	data, err := json.Marshal(frame)
	if err != nil {
		s.metrics.RecordFrame(false)
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := s.transport.Write(s.handle, data); err != nil {
		s.metrics.RecordFrame(false)
		return fmt.Errorf("write characteristic: %w: %w", telemetry.ErrLinkUnavailable, err)
	}
	if err := s.transport.Notify(peer, s.handle, data); err != nil {
		s.metrics.RecordFrame(false)
		return fmt.Errorf("notify peer %d: %w: %w", peer, telemetry.ErrLinkUnavailable, err)
	}
	s.metrics.RecordFrame(true)
	s.sleep(s.frameDelay)
	return nil
}
