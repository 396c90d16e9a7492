package ingestion

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/yash/flightwatch/pkg/models"
)

//go:embed fixtures/*.json
var fixtureFS embed.FS

// LoadFixtures returns the bundled sample states and flight records used
// by offline mode.
func LoadFixtures() (*models.StatesResponse, []models.FlightRecord, error) {
	var states models.StatesResponse
	if err := readFixture("fixtures/states.json", &states); err != nil {
		return nil, nil, err
	}
	var flights []models.FlightRecord
	if err := readFixture("fixtures/flights.json", &flights); err != nil {
		return nil, nil, err
	}
	return &states, flights, nil
}

func readFixture(name string, dest interface{}) error {
	data, err := fixtureFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("reading fixture %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("parsing fixture %s: %w", name, err)
	}
	return nil
}
