// Package lookup holds the read-only airport and aircraft reference tables
// used to enrich reconciled flights.
package lookup

import (
	"sort"
	"strings"

	"github.com/skypies/geo"

	"github.com/yash/flightwatch/pkg/models"
)

var majorAirports = []models.Airport{
	{ICAO: "KSFO", IATA: "SFO", Name: "San Francisco International Airport", City: "San Francisco", Country: "United States", Latitude: 37.6213, Longitude: -122.3790, Elevation: 4, Timezone: "America/Los_Angeles"},
	{ICAO: "KJFK", IATA: "JFK", Name: "John F. Kennedy International Airport", City: "New York", Country: "United States", Latitude: 40.6413, Longitude: -73.7781, Elevation: 4, Timezone: "America/New_York"},
	{ICAO: "KLAX", IATA: "LAX", Name: "Los Angeles International Airport", City: "Los Angeles", Country: "United States", Latitude: 33.9416, Longitude: -118.4085, Elevation: 38, Timezone: "America/Los_Angeles"},
	{ICAO: "KORD", IATA: "ORD", Name: "O'Hare International Airport", City: "Chicago", Country: "United States", Latitude: 41.9742, Longitude: -87.9073, Elevation: 205, Timezone: "America/Chicago"},
	{ICAO: "KATL", IATA: "ATL", Name: "Hartsfield-Jackson Atlanta International Airport", City: "Atlanta", Country: "United States", Latitude: 33.6407, Longitude: -84.4277, Elevation: 313, Timezone: "America/New_York"},
	{ICAO: "EGLL", IATA: "LHR", Name: "London Heathrow Airport", City: "London", Country: "United Kingdom", Latitude: 51.4700, Longitude: -0.4543, Elevation: 25, Timezone: "Europe/London"},
	{ICAO: "LFPG", IATA: "CDG", Name: "Charles de Gaulle Airport", City: "Paris", Country: "France", Latitude: 49.0097, Longitude: 2.5479, Elevation: 119, Timezone: "Europe/Paris"},
	{ICAO: "EDDF", IATA: "FRA", Name: "Frankfurt Airport", City: "Frankfurt", Country: "Germany", Latitude: 50.0379, Longitude: 8.5622, Elevation: 111, Timezone: "Europe/Berlin"},
	{ICAO: "RJTT", IATA: "HND", Name: "Tokyo Haneda Airport", City: "Tokyo", Country: "Japan", Latitude: 35.5494, Longitude: 139.7798, Elevation: 6, Timezone: "Asia/Tokyo"},
	{ICAO: "WSSS", IATA: "SIN", Name: "Singapore Changi Airport", City: "Singapore", Country: "Singapore", Latitude: 1.3644, Longitude: 103.9915, Elevation: 6, Timezone: "Asia/Singapore"},
}

// Airports is an immutable airport table keyed by ICAO code.
type Airports struct {
	byICAO map[string]models.Airport
}

// NewAirports indexes the given airports. Later duplicates win.
func NewAirports(list []models.Airport) *Airports {
	a := &Airports{byICAO: make(map[string]models.Airport, len(list))}
	for _, ap := range list {
		a.byICAO[strings.ToUpper(ap.ICAO)] = ap
	}
	return a
}

var defaultAirports = NewAirports(majorAirports)

// DefaultAirports returns the built-in table of major airports.
func DefaultAirports() *Airports {
	return defaultAirports
}

// Len returns the number of airports.
func (a *Airports) Len() int {
	return len(a.byICAO)
}

// Airport looks up by ICAO code, case-insensitively.
func (a *Airports) Airport(icao string) (*models.Airport, bool) {
	ap, ok := a.byICAO[strings.ToUpper(strings.TrimSpace(icao))]
	if !ok {
		return nil, false
	}
	return &ap, true
}

// AirportByIATA looks up by IATA code, case-insensitively.
func (a *Airports) AirportByIATA(iata string) (*models.Airport, bool) {
	iata = strings.ToUpper(strings.TrimSpace(iata))
	if iata == "" {
		return nil, false
	}
	for _, ap := range a.byICAO {
		if strings.ToUpper(ap.IATA) == iata {
			ap := ap
			return &ap, true
		}
	}
	return nil, false
}

// All returns every airport sorted by name.
func (a *Airports) All() []models.Airport {
	out := make([]models.Airport, 0, len(a.byICAO))
	for _, ap := range a.byICAO {
		out = append(out, ap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Search matches the query against ICAO, IATA, name and city. Results are
// sorted by name.
func (a *Airports) Search(query string) []models.Airport {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]models.Airport, 0)
	if q == "" {
		return out
	}
	for _, ap := range a.byICAO {
		if strings.Contains(strings.ToLower(ap.ICAO), q) ||
			strings.Contains(strings.ToLower(ap.IATA), q) ||
			strings.Contains(strings.ToLower(ap.Name), q) ||
			strings.Contains(strings.ToLower(ap.City), q) {
			out = append(out, ap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Nearest returns the airport closest to the point and its great-circle
// distance in kilometres.
func (a *Airports) Nearest(lat, lon float64) (*models.Airport, float64, bool) {
	pos := geo.Latlong{Lat: lat, Long: lon}

	var best *models.Airport
	bestKM := 0.0
	for _, ap := range a.byICAO {
		km := pos.DistKM(geo.Latlong{Lat: ap.Latitude, Long: ap.Longitude})
		if best == nil || km < bestKM || (km == bestKM && ap.ICAO < best.ICAO) {
			ap := ap
			best, bestKM = &ap, km
		}
	}
	return best, bestKM, best != nil
}
