package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/i2c"

	"github.com/itohio/gasnode/pkg/channel"
	"github.com/itohio/gasnode/pkg/metrics"
	"github.com/itohio/gasnode/pkg/mux"
	"github.com/itohio/gasnode/pkg/sensor"
	"github.com/itohio/gasnode/pkg/telemetry"
)

const (
	DefaultTick          = 50 * time.Millisecond
	DefaultFlushInterval = 60 * time.Second
	DefaultVisitSettle   = 100 * time.Millisecond
)

// Sink receives every flushed batch. Each sink gets its own copy.
type Sink interface {
	Deliver(batch telemetry.Batch)
}

// Scheduler is the acquisition loop. It visits due channels through the
// multiplexer, accumulates readings into a batch and hands the batch to the
// sinks at every flush boundary. It is not safe for concurrent use; Run owns it.
type Scheduler struct {
	registry *channel.Registry
	mux      mux.Selector
	bus      i2c.Bus
	factory  sensor.Factory
	clock    Clock
	sinks    []Sink
	metrics  *metrics.Collector
	sleep    func(time.Duration)

	tick          time.Duration
	flushInterval time.Duration
	visitSettle   time.Duration

	drivers   map[int]sensor.Sensor
	batch     telemetry.Batch
	lastFlush uint32

	// elapsed ms since the clock's zero, carried past the 32-bit wrap
	epochMs uint64
	lastNow uint32
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSinks appends batch consumers, delivered in order.
func WithSinks(sinks ...Sink) Option {
	return func(s *Scheduler) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithTick sets the loop period.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithFlushInterval sets the batch hand-off period.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// WithVisitSettle sets the wait between selecting a channel and reading it.
func WithVisitSettle(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.visitSettle = d
		}
	}
}

// WithSleep replaces time.Sleep, for tests.
func WithSleep(fn func(time.Duration)) Option {
	return func(s *Scheduler) {
		s.sleep = fn
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Scheduler) {
		s.metrics = c
	}
}

// New creates a scheduler. The flush clock starts at the current tick, so the
// first flush happens one flush interval after construction.
func New(registry *channel.Registry, sel mux.Selector, bus i2c.Bus, factory sensor.Factory, clock Clock, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:      registry,
		mux:           sel,
		bus:           bus,
		factory:       factory,
		clock:         clock,
		sleep:         time.Sleep,
		tick:          DefaultTick,
		flushInterval: DefaultFlushInterval,
		visitSettle:   DefaultVisitSettle,
		drivers:       make(map[int]sensor.Sensor),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastNow = clock.NowMs()
	s.epochMs = uint64(s.lastNow)
	s.lastFlush = s.lastNow
	return s
}

// Run ticks until ctx is cancelled, then flushes what is left.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Int("channels", s.registry.Len()).
		Dur("tick", s.tick).
		Dur("flush", s.flushInterval).
		Msg("acquisition started")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		s.Tick()

		select {
		case <-ctx.Done():
			s.Flush()
			log.Info().Msg("acquisition stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick visits every channel due at the current tick, in id order, then
// flushes if the flush interval has elapsed. It returns the number of visits.
func (s *Scheduler) Tick() int {
	now := s.advance()

	visited := 0
	for _, ch := range s.registry.Channels() {
		if !ch.Due(now) {
			continue
		}
		s.visit(ch, now)
		visited++
	}

	if channel.TicksDiff(now, s.lastFlush) >= s.flushInterval.Milliseconds() {
		s.flush(now)
	}
	return visited
}

// Flush hands the current batch to the sinks immediately.
func (s *Scheduler) Flush() {
	s.flush(s.advance())
}

// Pending returns a copy of the batch collected since the last flush.
func (s *Scheduler) Pending() telemetry.Batch {
	return s.batch.Clone()
}

// advance reads the clock and extends the epoch counter. It relies on being
// called at least once per wrap period of the tick clock.
func (s *Scheduler) advance() uint32 {
	now := s.clock.NowMs()
	s.epochMs += uint64(now - s.lastNow)
	s.lastNow = now
	return now
}

func (s *Scheduler) flush(now uint32) {
	batch := s.batch
	s.batch = nil
	s.lastFlush = now

	log.Debug().Int("readings", len(batch)).Msg("flush")
	s.metrics.RecordFlush(len(batch))
	for _, sink := range s.sinks {
		sink.Deliver(batch.Clone())
	}
}

// visit reads one channel. LastSample advances whatever the outcome.
func (s *Scheduler) visit(ch *channel.Channel, now uint32) {
	defer func() { ch.LastSample = now }()

	r := telemetry.Reading{
		Timestamp: float64(s.epochMs) / 1000,
		Channel:   ch.ID,
		Label:     ch.Kind.Label(),
	}

	if err := s.mux.Select(ch.ID); err != nil {
		log.Warn().Err(err).Int("channel", ch.ID).Msg("failed to select channel")
		s.record(r)
		return
	}
	defer func() {
		if err := s.mux.Disable(); err != nil {
			log.Warn().Err(err).Msg("failed to disable mux")
		}
	}()

	s.sleep(s.visitSettle)

	v, err := s.driver(ch).Read()
	if err != nil {
		log.Warn().Err(err).Int("channel", ch.ID).Stringer("kind", ch.Kind).Msg("sensor read failed")
	} else {
		r.Value = v
		log.Debug().Int("channel", ch.ID).Str("sensor_type", string(r.Label)).Str("data", telemetry.FormatValue(v)).Msg("reading")
	}
	s.record(r)
}

func (s *Scheduler) record(r telemetry.Reading) {
	s.batch = append(s.batch, r)
	s.metrics.RecordReading(r.Channel, string(r.Label), !r.Failed())
}

// driver returns the cached driver of a channel, building it on first use and
// rebuilding it while it reports itself unhealthy. The channel must be selected.
func (s *Scheduler) driver(ch *channel.Channel) sensor.Sensor {
	if d, ok := s.drivers[ch.ID]; ok && d.Healthy() {
		return d
	}

	d := s.factory(ch.Kind, s.bus)
	s.drivers[ch.ID] = d
	if !d.Healthy() {
		log.Warn().Int("channel", ch.ID).Stringer("kind", ch.Kind).Msg("sensor not responding")
	}
	return d
}
