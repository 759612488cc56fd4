package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Label is the sensor type tag carried on the wire and in the log.
type Label string

const (
	LabelCO2 Label = "CO2"
	LabelO2  Label = "O2"
)

// Value is a decoded sensor payload. A nil Value marks a failed read.
type Value interface {
	// Fields returns the payload numbers in wire order.
	Fields() []float64
}

// CO2Value is a combined CO2 / temperature / humidity measurement.
type CO2Value struct {
	PPM   int
	TempC float64
	RH    float64
}

// Fields implements Value.
func (v CO2Value) Fields() []float64 {
	return []float64{float64(v.PPM), v.TempC, v.RH}
}

// MarshalJSON encodes the value as [ppm, temp, rh].
func (v CO2Value) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{v.PPM, v.TempC, v.RH})
}

// O2Value is an averaged oxygen concentration in percent.
type O2Value float64

// Fields implements Value.
func (v O2Value) Fields() []float64 {
	return []float64{float64(v)}
}

// Reading is one channel visit. Readings are immutable once appended to a Batch.
type Reading struct {
	Timestamp float64 `json:"timestamp"` // seconds on the node's tick clock
	Channel   int     `json:"channel"`
	Label     Label   `json:"sensor_type"`
	Value     Value   `json:"data"`
}

// Failed reports whether the reading carries no data.
func (r Reading) Failed() bool {
	return r.Value == nil
}

// UnmarshalJSON decodes the wire object, accepting a number, a 3-element array or null for data.
func (r *Reading) UnmarshalJSON(b []byte) error {
	var wire struct {
		Timestamp float64         `json:"timestamp"`
		Channel   int             `json:"channel"`
		Label     Label           `json:"sensor_type"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	r.Timestamp = wire.Timestamp
	r.Channel = wire.Channel
	r.Label = wire.Label
	r.Value = nil

	data := bytes.TrimSpace(wire.Data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
	case data[0] == '[':
		var fields []float64
		if err := json.Unmarshal(data, &fields); err != nil {
			return fmt.Errorf("invalid data array: %w", err)
		}
		if len(fields) != 3 {
			return fmt.Errorf("invalid data array: expected 3 values, got %d", len(fields))
		}
		r.Value = CO2Value{PPM: int(fields[0]), TempC: fields[1], RH: fields[2]}
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("invalid data value: %w", err)
		}
		r.Value = O2Value(f)
	}
	return nil
}

// Batch is the ordered set of readings between two flush boundaries.
type Batch []Reading

// Clone returns an independent copy, so a sink never shares backing storage with
// the scheduler or with another sink.
func (b Batch) Clone() Batch {
	if len(b) == 0 {
		return nil
	}
	out := make(Batch, len(b))
	copy(out, b)
	return out
}

// FormatValue renders a payload for the CSV log: fields comma-joined, empty for a failed read.
func FormatValue(v Value) string {
	if v == nil {
		return ""
	}
	if co2, ok := v.(CO2Value); ok {
		return strconv.Itoa(co2.PPM) + "," + formatFloat(co2.TempC) + "," + formatFloat(co2.RH)
	}
	fields := v.Fields()
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = formatFloat(f)
	}
	return strings.Join(parts, ",")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Round2 rounds to two decimal places.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
