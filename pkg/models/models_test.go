package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

// ---------------------------------------------------------------------------
// Unit conversions
// ---------------------------------------------------------------------------

func TestSpeedConversions(t *testing.T) {
	v := Velocity{Horizontal: ptr(100)}

	require.NotNil(t, v.SpeedKnots())
	assert.InDelta(t, 194.384, *v.SpeedKnots(), 1e-9)
	assert.InDelta(t, 223.694, *v.SpeedMPH(), 1e-9)

	assert.Nil(t, Velocity{}.SpeedKnots())
	assert.Nil(t, Velocity{}.SpeedMPH())
}

func TestAltitudeConversions(t *testing.T) {
	a := Altitude{Barometric: ptr(1000), Geometric: ptr(0)}

	assert.InDelta(t, 3280.84, *a.BaroFeet(), 1e-9)
	require.NotNil(t, a.GeoFeet())
	assert.Zero(t, *a.GeoFeet())
	assert.Nil(t, Altitude{}.BaroFeet())
}

// ---------------------------------------------------------------------------
// Flight accessors
// ---------------------------------------------------------------------------

func TestFlightID(t *testing.T) {
	assert.Equal(t, "a12345_1700000000", FlightID("a12345", 1700000000))
}

func TestDisplayCallsign(t *testing.T) {
	f := Flight{ICAO24: "abc123", Callsign: "UAL123  "}
	assert.Equal(t, "UAL123", f.DisplayCallsign())

	f.Callsign = "   "
	assert.Equal(t, "ABC123", f.DisplayCallsign())
}

func TestAirborne(t *testing.T) {
	f := Flight{}
	assert.False(t, f.Airborne())

	f.Position = &Position{OnGround: true}
	assert.False(t, f.Airborne())

	f.Position.OnGround = false
	assert.True(t, f.Airborne())
}

func TestRoute(t *testing.T) {
	f := Flight{DepartureAirport: &Airport{ICAO: "KSFO", IATA: "SFO"}}
	_, ok := f.Route()
	assert.False(t, ok)

	f.ArrivalAirport = &Airport{ICAO: "EGLL"}
	route, ok := f.Route()
	require.True(t, ok)
	assert.Equal(t, "SFO → EGLL", route)
}

func TestStatusDisplayName(t *testing.T) {
	assert.Equal(t, "En Route", StatusEnRoute.DisplayName())
	assert.Equal(t, "Landed", StatusLanded.DisplayName())
	assert.Equal(t, "Unknown", FlightStatus("teleported").DisplayName())
}

// ---------------------------------------------------------------------------
// Delay confidence
// ---------------------------------------------------------------------------

func TestConfidenceLevel(t *testing.T) {
	tests := []struct {
		p    float64
		want string
	}{
		{1.0, ConfidenceHigh},
		{0.8, ConfidenceHigh},
		{0.79, ConfidenceMedium},
		{0.5, ConfidenceMedium},
		{0.49, ConfidenceLow},
		{0, ConfidenceLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DelayConfidence{Probability: tt.p}.ConfidenceLevel(), "p=%v", tt.p)
	}
}

func TestHasFactor(t *testing.T) {
	d := DelayConfidence{Factors: []DelayFactor{FactorWeather}}
	assert.True(t, d.HasFactor(FactorWeather))
	assert.False(t, d.HasFactor(FactorAirTrafficControl))
}

// ---------------------------------------------------------------------------
// Reference data
// ---------------------------------------------------------------------------

func TestAircraftDisplayName(t *testing.T) {
	a := &Aircraft{ICAO24: "a12345"}
	assert.Equal(t, "A12345", a.DisplayName())

	a.Registration = "N12345"
	assert.Equal(t, "N12345", a.DisplayName())

	a.TypeCode = "B738"
	assert.Equal(t, "B738", a.DisplayName())

	a.Model = "Boeing 737-800"
	assert.Equal(t, "Boeing 737-800", a.DisplayName())
}

func TestAirportDisplayCode(t *testing.T) {
	assert.Equal(t, "SFO", (&Airport{ICAO: "KSFO", IATA: "SFO"}).DisplayCode())
	assert.Equal(t, "KXYZ", (&Airport{ICAO: "KXYZ"}).DisplayCode())
}
