package logsink

import (
	"bytes"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itohio/gasnode/pkg/metrics"
	"github.com/itohio/gasnode/pkg/telemetry"
)

// Header is the first line of every log file.
const Header = "timestamp,channel_id,sensor_type,data\n"

// DefaultTickUnit divides the reading timestamp into the logical tick column.
const DefaultTickUnit = 30 * time.Second

// Sink appends flushed batches to a CSV file. It never retries and never fails
// the caller: storage errors are logged and the batch is dropped from the log
// only. Each row is
//
//	tick,device_id,channel,sensor_type,value[,value...]
//
// where tick is the reading timestamp divided by the tick unit. The column is
// a monotonically increasing index, not a time.
type Sink struct {
	storage  Storage
	file     string
	device   string
	tickUnit time.Duration
	metrics  *metrics.Collector
}

// Option configures a Sink.
type Option func(*Sink)

// WithTickUnit sets the divisor of the tick column. Units below a millisecond are ignored.
func WithTickUnit(d time.Duration) Option {
	return func(s *Sink) {
		if d >= time.Millisecond {
			s.tickUnit = d
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Sink) {
		s.metrics = c
	}
}

// New creates a sink writing file on storage, tagging rows with device.
func New(storage Storage, file, device string, opts ...Option) *Sink {
	s := &Sink{
		storage:  storage,
		file:     file,
		device:   device,
		tickUnit: DefaultTickUnit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deliver hands a flushed batch to the log. Failures are logged only.
func (s *Sink) Deliver(batch telemetry.Batch) {
	if err := s.Append(batch); err != nil {
		log.Error().Err(err).Str("file", s.file).Int("readings", len(batch)).Msg("failed to log batch")
	}
}

// Append mounts the storage if needed, writes the header to a new file and
// appends one row per reading. The returned error wraps ErrStorageUnavailable.
func (s *Sink) Append(batch telemetry.Batch) error {
	if err := s.storage.Mount(); err != nil {
		s.metrics.RecordLogFailure()
		return err
	}

	exists, err := s.storage.Exists(s.file)
	if err != nil {
		s.metrics.RecordLogFailure()
		return err
	}

	var buf bytes.Buffer
	if !exists {
		buf.WriteString(Header)
	}
	for _, r := range batch {
		s.writeRow(&buf, r)
	}
	if buf.Len() == 0 {
		return nil
	}

	if err := s.storage.Append(s.file, buf.Bytes()); err != nil {
		s.metrics.RecordLogFailure()
		return err
	}

	s.metrics.RecordLogAppend(len(batch))
	log.Debug().Str("file", s.file).Int("readings", len(batch)).Bool("created", !exists).Msg("batch logged")
	return nil
}

func (s *Sink) writeRow(buf *bytes.Buffer, r telemetry.Reading) {
	buf.WriteString(strconv.FormatInt(s.tick(r.Timestamp), 10))
	buf.WriteByte(',')
	buf.WriteString(s.device)
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(r.Channel))
	buf.WriteByte(',')
	buf.WriteString(string(r.Label))
	buf.WriteByte(',')
	buf.WriteString(telemetry.FormatValue(r.Value))
	buf.WriteByte('\n')
}

func (s *Sink) tick(seconds float64) int64 {
	ms := int64(seconds * 1000)
	return ms / s.tickUnit.Milliseconds()
}

// ReadAll returns the whole log file, for dumping over a console.
func (s *Sink) ReadAll() ([]byte, error) {
	if err := s.storage.Mount(); err != nil {
		return nil, err
	}
	return s.storage.ReadFile(s.file)
}
