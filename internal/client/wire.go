package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
)

type wireTime struct {
	UTC   time.Time `json:"utc"`
	Local string    `json:"local"`
}

type wireParameter struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Units       string `json:"units"`
	DisplayName string `json:"displayName"`
}

type wireLocation struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Locality *string `json:"locality"`
	Country  struct {
		ID   int    `json:"id"`
		Code string `json:"code"`
		Name string `json:"name"`
	} `json:"country"`
	Coordinates *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"coordinates"`
	Sensors []struct {
		ID        int           `json:"id"`
		Name      string        `json:"name"`
		Parameter wireParameter `json:"parameter"`
	} `json:"sensors"`
	DatetimeLast *wireTime `json:"datetimeLast"`
}

type wirePeriod struct {
	Label        string    `json:"label"`
	Interval     string    `json:"interval"`
	DatetimeFrom *wireTime `json:"datetimeFrom"`
	DatetimeTo   *wireTime `json:"datetimeTo"`
}

type wireMeasurement struct {
	Value     *float64      `json:"value"`
	Parameter wireParameter `json:"parameter"`
	Period    *wirePeriod   `json:"period"`
	Datetime  *wireTime     `json:"datetime"`
	Summary   *struct {
		Min  *float64 `json:"min"`
		Max  *float64 `json:"max"`
		Avg  *float64 `json:"avg"`
		Mean *float64 `json:"mean"`
	} `json:"summary"`
	Coverage *struct {
		ObservedCount int `json:"observedCount"`
	} `json:"coverage"`
}

func (m wireMeasurement) timestamp() time.Time {
	if m.Period != nil && m.Period.DatetimeFrom != nil {
		return m.Period.DatetimeFrom.UTC.UTC()
	}
	if m.Datetime != nil {
		return m.Datetime.UTC.UTC()
	}
	return time.Time{}
}

type wireLatest struct {
	Datetime    *wireTime `json:"datetime"`
	Value       *float64  `json:"value"`
	SensorsID   int       `json:"sensorsId"`
	LocationsID int       `json:"locationsId"`
}

type wireCountry struct {
	ID   int    `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Decoder maps raw OpenAQ result records onto the domain models and
// validates them. Any malformed record fails the whole batch with ErrData.
type Decoder struct {
	validate *validator.Validate
}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{validate: validator.New()}
}

func (d *Decoder) check(kind string, i int, v interface{}) error {
	if err := d.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s record %d: %v", aqerr.ErrData, kind, i, err)
	}
	return nil
}

func unmarshalRecord(kind string, i int, raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s record %d: %v", aqerr.ErrData, kind, i, err)
	}
	return nil
}

// Locations decodes /locations results. Sensors for parameters outside the
// supported set are dropped.
func (d *Decoder) Locations(raws []json.RawMessage) ([]models.Location, error) {
	out := make([]models.Location, 0, len(raws))
	for i, raw := range raws {
		var w wireLocation
		if err := unmarshalRecord("location", i, raw, &w); err != nil {
			return nil, err
		}
		loc := models.Location{
			ID:          w.ID,
			Name:        w.Name,
			Country:     w.Country.Code,
			CountryName: w.Country.Name,
			Parameters:  []models.Parameter{},
			Sensors:     []models.Sensor{},
		}
		if w.Locality != nil {
			loc.City = *w.Locality
		}
		if w.Coordinates != nil {
			loc.Coordinates = &models.Coordinates{Latitude: w.Coordinates.Latitude, Longitude: w.Coordinates.Longitude}
		}
		if w.DatetimeLast != nil {
			loc.LastUpdated = w.DatetimeLast.UTC.UTC()
		}
		seen := make(map[models.Parameter]bool)
		for _, s := range w.Sensors {
			p, err := models.ParseParameter(s.Parameter.Name)
			if err != nil {
				continue
			}
			loc.Sensors = append(loc.Sensors, models.Sensor{ID: s.ID, Parameter: p, Units: s.Parameter.Units})
			if !seen[p] {
				seen[p] = true
				loc.Parameters = append(loc.Parameters, p)
			}
		}
		if err := d.check("location", i, loc); err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, nil
}

// Measurements decodes /sensors/{id}/measurements results for a sensor
// belonging to locationID.
func (d *Decoder) Measurements(raws []json.RawMessage, locationID, sensorID int) ([]models.Measurement, error) {
	out := make([]models.Measurement, 0, len(raws))
	for i, raw := range raws {
		var w wireMeasurement
		if err := unmarshalRecord("measurement", i, raw, &w); err != nil {
			return nil, err
		}
		m, err := d.measurement(i, w, locationID, sensorID)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (d *Decoder) measurement(i int, w wireMeasurement, locationID, sensorID int) (models.Measurement, error) {
	if w.Value == nil {
		return models.Measurement{}, fmt.Errorf("%w: measurement record %d has no value", aqerr.ErrData, i)
	}
	p, err := models.ParseParameter(w.Parameter.Name)
	if err != nil {
		return models.Measurement{}, fmt.Errorf("%w: measurement record %d: %v", aqerr.ErrData, i, err)
	}
	m := models.Measurement{
		LocationID: locationID,
		SensorID:   sensorID,
		Parameter:  p,
		Value:      *w.Value,
		Unit:       w.Parameter.Units,
		Timestamp:  w.timestamp(),
	}
	if err := d.check("measurement", i, m); err != nil {
		return models.Measurement{}, err
	}
	return m, nil
}

// Aggregates decodes /sensors/{id}/hours or /days results.
func (d *Decoder) Aggregates(raws []json.RawMessage, locationID, sensorID int, period string) ([]models.AggregatedMeasurement, error) {
	out := make([]models.AggregatedMeasurement, 0, len(raws))
	for i, raw := range raws {
		var w wireMeasurement
		if err := unmarshalRecord("aggregate", i, raw, &w); err != nil {
			return nil, err
		}
		m, err := d.measurement(i, w, locationID, sensorID)
		if err != nil {
			return nil, err
		}
		agg := models.AggregatedMeasurement{Measurement: m, Period: period, Avg: m.Value, Min: m.Value, Max: m.Value}
		if s := w.Summary; s != nil {
			if s.Min != nil {
				agg.Min = *s.Min
			}
			if s.Max != nil {
				agg.Max = *s.Max
			}
			if s.Avg != nil {
				agg.Avg = *s.Avg
			} else if s.Mean != nil {
				agg.Avg = *s.Mean
			}
		}
		if w.Coverage != nil {
			agg.Count = w.Coverage.ObservedCount
		}
		if err := d.check("aggregate", i, agg); err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, nil
}

// Latest decodes /locations/{id}/latest results, mapping sensor ids back to
// parameters through loc. Readings from sensors loc does not track (for
// example temperature) are dropped.
func (d *Decoder) Latest(raws []json.RawMessage, loc models.Location) ([]models.Measurement, error) {
	sensors := make(map[int]models.Sensor, len(loc.Sensors))
	for _, s := range loc.Sensors {
		sensors[s.ID] = s
	}
	out := make([]models.Measurement, 0, len(raws))
	for i, raw := range raws {
		var w wireLatest
		if err := unmarshalRecord("latest", i, raw, &w); err != nil {
			return nil, err
		}
		if w.Value == nil || w.Datetime == nil {
			return nil, fmt.Errorf("%w: latest record %d lacks value or datetime", aqerr.ErrData, i)
		}
		s, ok := sensors[w.SensorsID]
		if !ok {
			continue
		}
		m := models.Measurement{
			LocationID: loc.ID,
			SensorID:   s.ID,
			Parameter:  s.Parameter,
			Value:      *w.Value,
			Unit:       s.Units,
			Timestamp:  w.Datetime.UTC.UTC(),
		}
		if err := d.check("latest", i, m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Countries decodes /countries results.
func (d *Decoder) Countries(raws []json.RawMessage) ([]models.Country, error) {
	out := make([]models.Country, 0, len(raws))
	for i, raw := range raws {
		var w wireCountry
		if err := unmarshalRecord("country", i, raw, &w); err != nil {
			return nil, err
		}
		c := models.Country{ID: w.ID, Code: w.Code, Name: w.Name}
		if err := d.check("country", i, c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Parameters decodes /parameters results.
func (d *Decoder) Parameters(raws []json.RawMessage) ([]models.ParameterInfo, error) {
	out := make([]models.ParameterInfo, 0, len(raws))
	for i, raw := range raws {
		var w wireParameter
		if err := unmarshalRecord("parameter", i, raw, &w); err != nil {
			return nil, err
		}
		p := models.ParameterInfo{ID: w.ID, Name: w.Name, Units: w.Units, DisplayName: w.DisplayName}
		if err := d.check("parameter", i, p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
