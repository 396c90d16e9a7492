// Package reconcile turns raw state vectors into Flight records. Every
// function here is pure: the same inputs always give the same output.
package reconcile

import (
	"time"

	"github.com/yash/flightwatch/pkg/models"
)

// Delay heuristic thresholds and weights.
const (
	lowAltitudeFeet = 5000.0
	lowSpeedKnots   = 200.0

	lowAltitudeWeight = 0.2
	lowSpeedWeight    = 0.3
	boardingWeight    = 0.1

	lowSpeedDelayMinutes = 15
)

// AirportLookup resolves ICAO codes to reference airports.
type AirportLookup interface {
	Airport(icao string) (*models.Airport, bool)
}

// Reconciler converts vectors and optionally enriches routes. The zero
// value reconciles without route enrichment.
type Reconciler struct {
	airports AirportLookup
}

// New returns a Reconciler that resolves route airports through airports.
// A nil lookup disables enrichment.
func New(airports AirportLookup) *Reconciler {
	return &Reconciler{airports: airports}
}

// Reconcile builds a Flight from one state vector.
func (r *Reconciler) Reconcile(sv models.StateVector) models.Flight {
	f := models.Flight{
		ID:            models.FlightID(sv.ICAO24, sv.LastContact),
		ICAO24:        sv.ICAO24,
		OriginCountry: sv.OriginCountry,
		Velocity: models.Velocity{
			Horizontal: copyFloat(sv.Velocity),
			Vertical:   copyFloat(sv.VerticalRate),
			Heading:    copyFloat(sv.TrueTrack),
		},
		Altitude: models.Altitude{
			Barometric: copyFloat(sv.BaroAltitude),
			Geometric:  copyFloat(sv.GeoAltitude),
		},
		Status:     models.StatusEnRoute,
		LastUpdate: time.Unix(sv.LastContact, 0).UTC(),
	}
	if sv.Callsign != nil {
		f.Callsign = *sv.Callsign
	}
	if sv.OnGround {
		f.Status = models.StatusLanded
	}
	if sv.Latitude != nil && sv.Longitude != nil {
		f.Position = &models.Position{
			Latitude:  *sv.Latitude,
			Longitude: *sv.Longitude,
			OnGround:  sv.OnGround,
		}
	}

	f.DelayConfidence = DelayConfidence(f)
	return f
}

// ReconcileAll maps Reconcile over vectors, preserving order.
func (r *Reconciler) ReconcileAll(vectors []models.StateVector) []models.Flight {
	flights := make([]models.Flight, 0, len(vectors))
	for _, sv := range vectors {
		flights = append(flights, r.Reconcile(sv))
	}
	return flights
}

// DelayConfidence scores delay risk from altitude, speed and status. It
// returns nil when no factor applies.
func DelayConfidence(f models.Flight) *models.DelayConfidence {
	var (
		factors     []models.DelayFactor
		probability float64
		minutes     int
	)

	if ft := f.Altitude.BaroFeet(); ft != nil && *ft < lowAltitudeFeet {
		factors = append(factors, models.FactorAirTrafficControl)
		probability += lowAltitudeWeight
	}

	// an unknown position counts as not airborne
	if kn := f.Velocity.SpeedKnots(); kn != nil && *kn < lowSpeedKnots && f.Airborne() {
		factors = append(factors, models.FactorWeather)
		probability += lowSpeedWeight
		minutes += lowSpeedDelayMinutes
	}

	if f.Status == models.StatusBoarding {
		factors = append(factors, models.FactorHistoricalPattern)
		probability += boardingWeight
	}

	if probability <= 0 {
		return nil
	}
	if probability > 1 {
		probability = 1
	}
	return &models.DelayConfidence{
		Probability:           probability,
		Factors:               factors,
		EstimatedDelayMinutes: minutes,
	}
}

// EnrichRoute returns a copy of f with departure and arrival airports taken
// from the record of this aircraft that was last seen most recently. Codes
// the lookup does not know leave the corresponding airport unset.
func (r *Reconciler) EnrichRoute(f models.Flight, records []models.FlightRecord) models.Flight {
	if r.airports == nil {
		return f
	}

	var latest *models.FlightRecord
	for i := range records {
		rec := &records[i]
		if rec.ICAO24 != f.ICAO24 {
			continue
		}
		if latest == nil || rec.LastSeen > latest.LastSeen {
			latest = rec
		}
	}
	if latest == nil {
		return f
	}

	if latest.EstDepartureAirport != nil {
		if ap, ok := r.airports.Airport(*latest.EstDepartureAirport); ok {
			f.DepartureAirport = ap
		}
	}
	if latest.EstArrivalAirport != nil {
		if ap, ok := r.airports.Airport(*latest.EstArrivalAirport); ok {
			f.ArrivalAirport = ap
		}
	}
	return f
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
