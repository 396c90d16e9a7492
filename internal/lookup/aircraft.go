package lookup

import (
	"strings"

	"github.com/yash/flightwatch/pkg/models"
)

var typeCodeModels = map[string]string{
	"A319": "Airbus A319",
	"A320": "Airbus A320",
	"A321": "Airbus A321",
	"A350": "Airbus A350",
	"A388": "Airbus A380-800",
	"B737": "Boeing 737",
	"B738": "Boeing 737-800",
	"B739": "Boeing 737-900",
	"B77W": "Boeing 777-300ER",
	"B788": "Boeing 787-8",
	"B789": "Boeing 787-9",
	"B78X": "Boeing 787-10",
	"CRJ9": "Bombardier CRJ-900",
	"DH8D": "Bombardier Dash 8 Q400",
	"E170": "Embraer E170",
	"E190": "Embraer E190",
}

// ModelFromTypeCode maps an ICAO type designator to a model name.
func ModelFromTypeCode(typeCode string) (string, bool) {
	m, ok := typeCodeModels[strings.ToUpper(strings.TrimSpace(typeCode))]
	return m, ok
}

// ManufacturerFromTypeCode infers the manufacturer from the designator
// prefix.
func ManufacturerFromTypeCode(typeCode string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(typeCode))
	switch {
	case code == "":
		return "", false
	case strings.HasPrefix(code, "A"):
		return "Airbus", true
	case strings.HasPrefix(code, "B"):
		return "Boeing", true
	case strings.HasPrefix(code, "E"):
		return "Embraer", true
	case strings.HasPrefix(code, "CRJ"), strings.HasPrefix(code, "DH"):
		return "Bombardier", true
	}
	return "", false
}

// AircraftFromTypeCode builds an Aircraft reference for icao24 with model
// and manufacturer filled from the designator where known.
func AircraftFromTypeCode(icao24, typeCode string) *models.Aircraft {
	ac := &models.Aircraft{
		ICAO24:   icao24,
		TypeCode: strings.ToUpper(strings.TrimSpace(typeCode)),
	}
	ac.Model, _ = ModelFromTypeCode(typeCode)
	ac.Manufacturer, _ = ManufacturerFromTypeCode(typeCode)
	return ac
}
