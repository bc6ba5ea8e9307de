package models

import (
	"fmt"
	"strings"
	"time"
)

// Parameter is a pollutant tracked by the dashboard.
type Parameter string

const (
	ParameterPM25 Parameter = "pm25"
	ParameterPM10 Parameter = "pm10"
	ParameterNO2  Parameter = "no2"
	ParameterO3   Parameter = "o3"
	ParameterCO   Parameter = "co"
	ParameterSO2  Parameter = "so2"
	ParameterBC   Parameter = "bc"
)

// Parameters lists every supported pollutant in display order.
var Parameters = []Parameter{
	ParameterPM25, ParameterPM10, ParameterNO2, ParameterO3, ParameterCO, ParameterSO2, ParameterBC,
}

// ParseParameter accepts API names ("pm25") and dotted display names ("PM2.5"),
// case-insensitively.
func ParseParameter(s string) (Parameter, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, ".", "")
	for _, p := range Parameters {
		if string(p) == norm {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown parameter %q", s)
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Sensor binds an upstream sensor id to the pollutant it measures.
type Sensor struct {
	ID        int       `json:"id" validate:"required,gt=0"`
	Parameter Parameter `json:"parameter" validate:"required"`
	Units     string    `json:"units"`
}

// Location is a monitoring station. Immutable once fetched.
type Location struct {
	ID          int          `json:"id" validate:"required,gt=0"`
	Name        string       `json:"name"`
	Country     string       `json:"country"`
	CountryName string       `json:"countryName,omitempty"`
	City        string       `json:"city,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty" validate:"omitempty"`
	Parameters  []Parameter  `json:"parameters"`
	Sensors     []Sensor     `json:"sensors" validate:"dive"`
	LastUpdated time.Time    `json:"lastUpdated"`
}

// SensorFor returns the first sensor measuring p.
func (l Location) SensorFor(p Parameter) (Sensor, bool) {
	for _, s := range l.Sensors {
		if s.Parameter == p {
			return s, true
		}
	}
	return Sensor{}, false
}

// Measurement is a single concentration reading.
type Measurement struct {
	LocationID int       `json:"locationId"`
	SensorID   int       `json:"sensorId" validate:"required,gt=0"`
	Parameter  Parameter `json:"parameter" validate:"required"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
}

// AggregatedMeasurement is an hourly or daily roll-up of a sensor's readings.
type AggregatedMeasurement struct {
	Measurement
	Period string  `json:"period" validate:"oneof=hour day"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Count  int     `json:"count"`
}

// Country is an ISO country known to the upstream API.
type Country struct {
	ID   int    `json:"id"`
	Code string `json:"code" validate:"required"`
	Name string `json:"name"`
}

// ParameterInfo describes a parameter as reported by the upstream API.
type ParameterInfo struct {
	ID          int    `json:"id"`
	Name        string `json:"name" validate:"required"`
	Units       string `json:"units"`
	DisplayName string `json:"displayName,omitempty"`
}
