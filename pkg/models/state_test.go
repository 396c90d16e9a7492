package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullVector = `["a12345", "UAL123  ", "United States", 1700000000, 1700000001, -122.4, 37.7, 10000, false, 250, 90, -1.5, [1, 2], 10050, "7500", false, 0]`

func TestDecodeStateVector(t *testing.T) {
	var sv StateVector
	require.NoError(t, json.Unmarshal([]byte(fullVector), &sv))

	assert.Equal(t, "a12345", sv.ICAO24)
	require.NotNil(t, sv.Callsign)
	assert.Equal(t, "UAL123  ", *sv.Callsign)
	assert.Equal(t, "United States", sv.OriginCountry)
	require.NotNil(t, sv.TimePosition)
	assert.EqualValues(t, 1700000000, *sv.TimePosition)
	assert.EqualValues(t, 1700000001, sv.LastContact)
	assert.InDelta(t, 37.7, *sv.Latitude, 1e-9)
	assert.InDelta(t, -1.5, *sv.VerticalRate, 1e-9)
	assert.Equal(t, []int{1, 2}, sv.Sensors)
	assert.Equal(t, "7500", *sv.Squawk)
	assert.Nil(t, sv.Category)
}

func TestDecodeOptionalNulls(t *testing.T) {
	raw := `["b67890", null, "Germany", null, 1700000000, null, null, null, true, null, null, null, null, null, null, false, 2]`

	var sv StateVector
	require.NoError(t, json.Unmarshal([]byte(raw), &sv))

	assert.Nil(t, sv.Callsign)
	assert.Nil(t, sv.TimePosition)
	assert.Nil(t, sv.Latitude)
	assert.Nil(t, sv.Velocity)
	assert.Nil(t, sv.Sensors)
	assert.True(t, sv.OnGround)
	assert.Equal(t, 2, sv.PositionSource)
}

func TestDecodeExtendedCategory(t *testing.T) {
	raw := `["b67890", null, "Germany", null, 1700000000, null, null, null, true, null, null, null, null, null, null, false, 0, 4]`

	var sv StateVector
	require.NoError(t, json.Unmarshal([]byte(raw), &sv))
	require.NotNil(t, sv.Category)
	assert.Equal(t, 4, *sv.Category)
}

func TestDecodeFailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"null icao24", `[null, null, "Germany", null, 1700000000, null, null, null, true, null, null, null, null, null, null, false, 0]`, "icao24"},
		{"null last contact", `["b67890", null, "Germany", null, null, null, null, null, true, null, null, null, null, null, null, false, 0]`, "last_contact"},
		{"mistyped on ground", `["b67890", null, "Germany", null, 1700000000, null, null, null, "yes", null, null, null, null, null, null, false, 0]`, "on_ground"},
		{"mistyped velocity", `["b67890", null, "Germany", null, 1700000000, null, null, null, true, "fast", null, null, null, null, null, false, 0]`, "velocity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sv StateVector
			err := json.Unmarshal([]byte(tt.raw), &sv)
			require.Error(t, err)

			var fe *FieldError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.field, fe.Name)
		})
	}
}

func TestDecodeShortArray(t *testing.T) {
	var sv StateVector
	err := json.Unmarshal([]byte(`["a12345", "UAL123", "United States"]`), &sv)
	assert.ErrorContains(t, err, "got 3 fields")
}

func TestStateVectorWireRoundTrip(t *testing.T) {
	var sv StateVector
	require.NoError(t, json.Unmarshal([]byte(fullVector), &sv))

	out, err := json.Marshal(sv)
	require.NoError(t, err)

	var again StateVector
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, sv, again)
}

func TestStatesResponse(t *testing.T) {
	raw := `{"time": 1700000000, "states": [` + fullVector + `]}`

	var resp StatesResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	assert.EqualValues(t, 1700000000, resp.Time)
	require.Len(t, resp.States, 1)
	assert.Equal(t, "a12345", resp.States[0].ICAO24)
}
