package telemetry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReading_MarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		reading Reading
		want    string
	}{
		{
			name:    "co2 triple",
			reading: Reading{Timestamp: 12.5, Channel: 1, Label: LabelCO2, Value: CO2Value{PPM: 612, TempC: 21.43, RH: 40.1}},
			want:    `{"timestamp":12.5,"channel":1,"sensor_type":"CO2","data":[612,21.43,40.1]}`,
		},
		{
			name:    "oxygen scalar",
			reading: Reading{Timestamp: 30, Channel: 0, Label: LabelO2, Value: O2Value(20.87)},
			want:    `{"timestamp":30,"channel":0,"sensor_type":"O2","data":20.87}`,
		},
		{
			name:    "failed read",
			reading: Reading{Timestamp: 45, Channel: 3, Label: LabelCO2},
			want:    `{"timestamp":45,"channel":3,"sensor_type":"CO2","data":null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.reading)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestReading_UnmarshalJSON(t *testing.T) {
	var frame []Reading
	err := json.Unmarshal([]byte(`[
		{"timestamp":1.5,"channel":1,"sensor_type":"CO2","data":[500,22.1,35.5]},
		{"timestamp":2,"channel":2,"sensor_type":"O2","data":20.9},
		{"timestamp":3,"channel":4,"sensor_type":"O2","data":null}
	]`), &frame)
	require.NoError(t, err)
	require.Len(t, frame, 3)

	assert.Equal(t, CO2Value{PPM: 500, TempC: 22.1, RH: 35.5}, frame[0].Value)
	assert.Equal(t, O2Value(20.9), frame[1].Value)
	assert.True(t, frame[2].Failed())
	assert.Equal(t, LabelO2, frame[2].Label)
	assert.Equal(t, 4, frame[2].Channel)
}

func TestReading_UnmarshalJSON_BadArray(t *testing.T) {
	var r Reading
	err := json.Unmarshal([]byte(`{"timestamp":1,"channel":1,"sensor_type":"CO2","data":[1,2]}`), &r)
	assert.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "612,21.43,40.1", FormatValue(CO2Value{PPM: 612, TempC: 21.43, RH: 40.1}))
	assert.Equal(t, "20.87", FormatValue(O2Value(20.87)))
	assert.Equal(t, "-1", FormatValue(O2Value(-1)))
}

func TestBatch_Clone(t *testing.T) {
	b := Batch{{Channel: 1}, {Channel: 2}}
	c := b.Clone()
	c[0].Channel = 9

	assert.Equal(t, 1, b[0].Channel)
	assert.Nil(t, Batch(nil).Clone())
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 21.43, Round2(21.4312))
	assert.Equal(t, 130.0, Round2(130.0000001))
	assert.Equal(t, -45.0, Round2(-45))
}
