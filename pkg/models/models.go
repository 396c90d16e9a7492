package models

import (
	"fmt"
	"strings"
	"time"
)

// Unit conversion factors applied to OpenSky SI values.
const (
	MetersPerSecondToKnots = 1.94384
	MetersPerSecondToMPH   = 2.23694
	MetersToFeet           = 3.28084
)

// Position is a reported horizontal position.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	OnGround  bool    `json:"on_ground"`
}

// Velocity holds kinematic values in SI units. Nil means the transponder
// did not report the value.
type Velocity struct {
	Horizontal *float64 `json:"horizontal,omitempty"` // m/s
	Vertical   *float64 `json:"vertical,omitempty"`   // m/s
	Heading    *float64 `json:"heading,omitempty"`    // degrees
}

// SpeedKnots returns the horizontal speed in knots.
func (v Velocity) SpeedKnots() *float64 {
	return scale(v.Horizontal, MetersPerSecondToKnots)
}

// SpeedMPH returns the horizontal speed in miles per hour.
func (v Velocity) SpeedMPH() *float64 {
	return scale(v.Horizontal, MetersPerSecondToMPH)
}

// Altitude holds barometric and geometric altitude in meters.
type Altitude struct {
	Barometric *float64 `json:"barometric,omitempty"`
	Geometric  *float64 `json:"geometric,omitempty"`
}

// BaroFeet returns the barometric altitude in feet.
func (a Altitude) BaroFeet() *float64 {
	return scale(a.Barometric, MetersToFeet)
}

// GeoFeet returns the geometric altitude in feet.
func (a Altitude) GeoFeet() *float64 {
	return scale(a.Geometric, MetersToFeet)
}

func scale(v *float64, factor float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v * factor
	return &out
}

// Flight is the reconciled view of one state vector snapshot. Consumers
// treat it as a value; each refresh produces new records.
type Flight struct {
	ID            string `json:"id"`
	ICAO24        string `json:"icao24"`
	Callsign      string `json:"callsign,omitempty"`
	OriginCountry string `json:"origin_country"`

	Position *Position    `json:"position,omitempty"`
	Velocity Velocity     `json:"velocity"`
	Altitude Altitude     `json:"altitude"`
	Status   FlightStatus `json:"status"`

	DepartureAirport *Airport  `json:"departure_airport,omitempty"`
	ArrivalAirport   *Airport  `json:"arrival_airport,omitempty"`
	Aircraft         *Aircraft `json:"aircraft,omitempty"`

	DelayConfidence *DelayConfidence `json:"delay_confidence,omitempty"`
	LastUpdate      time.Time        `json:"last_update"`
}

// FlightID builds the snapshot identity used for Flight.ID.
func FlightID(icao24 string, lastContact int64) string {
	return fmt.Sprintf("%s_%d", icao24, lastContact)
}

// DisplayCallsign returns the trimmed callsign, or the upper-cased ICAO24
// address when no callsign was broadcast.
func (f *Flight) DisplayCallsign() string {
	if cs := strings.TrimSpace(f.Callsign); cs != "" {
		return cs
	}
	return strings.ToUpper(f.ICAO24)
}

// Airborne reports whether the flight has a position and is off the ground.
func (f *Flight) Airborne() bool {
	return f.Position != nil && !f.Position.OnGround
}

// Route returns "DEP → ARR" when both airports are known.
func (f *Flight) Route() (string, bool) {
	if f.DepartureAirport == nil || f.ArrivalAirport == nil {
		return "", false
	}
	return f.DepartureAirport.DisplayCode() + " → " + f.ArrivalAirport.DisplayCode(), true
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// FlightStatus is the lifecycle phase of a flight.
type FlightStatus string

const (
	StatusScheduled FlightStatus = "scheduled"
	StatusBoarding  FlightStatus = "boarding"
	StatusDeparted  FlightStatus = "departed"
	StatusEnRoute   FlightStatus = "enRoute"
	StatusLanding   FlightStatus = "landing"
	StatusLanded    FlightStatus = "landed"
	StatusCancelled FlightStatus = "cancelled"
	StatusDiverted  FlightStatus = "diverted"
	StatusUnknown   FlightStatus = "unknown"
)

// DisplayName returns a human-readable label.
func (s FlightStatus) DisplayName() string {
	switch s {
	case StatusScheduled:
		return "Scheduled"
	case StatusBoarding:
		return "Boarding"
	case StatusDeparted:
		return "Departed"
	case StatusEnRoute:
		return "En Route"
	case StatusLanding:
		return "Landing"
	case StatusLanded:
		return "Landed"
	case StatusCancelled:
		return "Cancelled"
	case StatusDiverted:
		return "Diverted"
	default:
		return "Unknown"
	}
}

// ---------------------------------------------------------------------------
// Delay confidence
// ---------------------------------------------------------------------------

// DelayFactor categorises a contributor to delay risk.
type DelayFactor string

const (
	FactorWeather           DelayFactor = "weather"
	FactorAirTrafficControl DelayFactor = "airTrafficControl"
	FactorMechanicalIssue   DelayFactor = "mechanicalIssue"
	FactorCrewScheduling    DelayFactor = "crewScheduling"
	FactorAirportCongestion DelayFactor = "airportCongestion"
	FactorHistoricalPattern DelayFactor = "historicalPattern"
)

// Confidence levels derived from DelayConfidence.Probability.
const (
	ConfidenceHigh   = "High"
	ConfidenceMedium = "Medium"
	ConfidenceLow    = "Low"
)

// DelayConfidence is a best-effort delay estimate attached by the reconciler.
type DelayConfidence struct {
	Probability           float64       `json:"probability"`
	Factors               []DelayFactor `json:"factors"`
	EstimatedDelayMinutes int           `json:"estimated_delay_minutes"`
}

// ConfidenceLevel buckets Probability into High, Medium or Low.
func (d DelayConfidence) ConfidenceLevel() string {
	switch {
	case d.Probability >= 0.8:
		return ConfidenceHigh
	case d.Probability >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// HasFactor reports whether f contributed to the estimate.
func (d DelayConfidence) HasFactor(f DelayFactor) bool {
	for _, got := range d.Factors {
		if got == f {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Reference data
// ---------------------------------------------------------------------------

// Airport is a read-only airport reference.
type Airport struct {
	ICAO      string  `json:"icao"`
	IATA      string  `json:"iata,omitempty"`
	Name      string  `json:"name"`
	City      string  `json:"city"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation_ft"`
	Timezone  string  `json:"timezone"`
}

// DisplayCode prefers the IATA code.
func (a *Airport) DisplayCode() string {
	if a.IATA != "" {
		return a.IATA
	}
	return a.ICAO
}

// Aircraft is a read-only airframe reference.
type Aircraft struct {
	ICAO24       string `json:"icao24"`
	Registration string `json:"registration,omitempty"`
	Model        string `json:"model,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Operator     string `json:"operator,omitempty"`
	TypeCode     string `json:"typecode,omitempty"`
}

// DisplayName returns the most specific description available.
func (a *Aircraft) DisplayName() string {
	switch {
	case a.Model != "":
		return a.Model
	case a.TypeCode != "":
		return a.TypeCode
	case a.Registration != "":
		return a.Registration
	default:
		return strings.ToUpper(a.ICAO24)
	}
}
