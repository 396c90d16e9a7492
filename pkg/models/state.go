package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StateVectorFields is the number of positional fields OpenSky sends for a
// state vector. An optional 18th field (category) is sent when extended
// data is requested.
const StateVectorFields = 17

// StateVector is one aircraft's raw kinematic snapshot. On the wire it is a
// positional JSON array; nil pointers are fields OpenSky reported as null.
type StateVector struct {
	ICAO24         string
	Callsign       *string
	OriginCountry  string
	TimePosition   *int64
	LastContact    int64
	Longitude      *float64
	Latitude       *float64
	BaroAltitude   *float64
	OnGround       bool
	Velocity       *float64
	TrueTrack      *float64
	VerticalRate   *float64
	Sensors        []int
	GeoAltitude    *float64
	Squawk         *string
	SPI            bool
	PositionSource int
	Category       *int
}

// FieldError describes a positional field that failed to decode.
type FieldError struct {
	Index  int
	Name   string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("state vector field %d (%s): %s", e.Index, e.Name, e.Reason)
}

// UnmarshalJSON decodes the positional array. It fails on short arrays and
// on null or mistyped required fields rather than substituting defaults.
func (s *StateVector) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("state vector: %w", err)
	}
	if len(fields) < StateVectorFields {
		return fmt.Errorf("state vector: got %d fields, want at least %d", len(fields), StateVectorFields)
	}

	d := fieldDecoder{fields: fields}
	var v StateVector
	d.required(0, "icao24", &v.ICAO24)
	d.optional(1, "callsign", &v.Callsign)
	d.required(2, "origin_country", &v.OriginCountry)
	d.optional(3, "time_position", &v.TimePosition)
	d.required(4, "last_contact", &v.LastContact)
	d.optional(5, "longitude", &v.Longitude)
	d.optional(6, "latitude", &v.Latitude)
	d.optional(7, "baro_altitude", &v.BaroAltitude)
	d.required(8, "on_ground", &v.OnGround)
	d.optional(9, "velocity", &v.Velocity)
	d.optional(10, "true_track", &v.TrueTrack)
	d.optional(11, "vertical_rate", &v.VerticalRate)
	d.optional(12, "sensors", &v.Sensors)
	d.optional(13, "geo_altitude", &v.GeoAltitude)
	d.optional(14, "squawk", &v.Squawk)
	d.required(15, "spi", &v.SPI)
	d.required(16, "position_source", &v.PositionSource)
	if len(fields) > StateVectorFields {
		d.optional(17, "category", &v.Category)
	}
	if d.err != nil {
		return d.err
	}

	*s = v
	return nil
}

// MarshalJSON encodes the vector back into its positional wire form.
func (s StateVector) MarshalJSON() ([]byte, error) {
	out := []interface{}{
		s.ICAO24,
		s.Callsign,
		s.OriginCountry,
		s.TimePosition,
		s.LastContact,
		s.Longitude,
		s.Latitude,
		s.BaroAltitude,
		s.OnGround,
		s.Velocity,
		s.TrueTrack,
		s.VerticalRate,
		s.Sensors,
		s.GeoAltitude,
		s.Squawk,
		s.SPI,
		s.PositionSource,
	}
	if s.Category != nil {
		out = append(out, s.Category)
	}
	return json.Marshal(out)
}

// fieldDecoder keeps the first error so a vector decodes in one pass.
type fieldDecoder struct {
	fields []json.RawMessage
	err    error
}

var jsonNull = []byte("null")

func (d *fieldDecoder) required(idx int, name string, dest interface{}) {
	if d.err != nil {
		return
	}
	raw := bytes.TrimSpace(d.fields[idx])
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		d.err = &FieldError{Index: idx, Name: name, Reason: "required field is null"}
		return
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		d.err = &FieldError{Index: idx, Name: name, Reason: err.Error()}
	}
}

func (d *fieldDecoder) optional(idx int, name string, dest interface{}) {
	if d.err != nil {
		return
	}
	// null leaves pointer and slice destinations untouched
	if err := json.Unmarshal(d.fields[idx], dest); err != nil {
		d.err = &FieldError{Index: idx, Name: name, Reason: err.Error()}
	}
}

// StatesResponse mirrors the JSON shape returned by /states/all.
type StatesResponse struct {
	Time   int64         `json:"time"`
	States []StateVector `json:"states"`
}

// FlightRecord is one entry returned by the /flights endpoints.
type FlightRecord struct {
	ICAO24                           string  `json:"icao24"`
	FirstSeen                        int64   `json:"firstSeen"`
	EstDepartureAirport              *string `json:"estDepartureAirport"`
	LastSeen                         int64   `json:"lastSeen"`
	EstArrivalAirport                *string `json:"estArrivalAirport"`
	Callsign                         *string `json:"callsign"`
	EstDepartureAirportHorizDistance *int    `json:"estDepartureAirportHorizDistance"`
	EstDepartureAirportVertDistance  *int    `json:"estDepartureAirportVertDistance"`
	EstArrivalAirportHorizDistance   *int    `json:"estArrivalAirportHorizDistance"`
	EstArrivalAirportVertDistance    *int    `json:"estArrivalAirportVertDistance"`
	DepartureAirportCandidatesCount  *int    `json:"departureAirportCandidatesCount"`
	ArrivalAirportCandidatesCount    *int    `json:"arrivalAirportCandidatesCount"`
}
