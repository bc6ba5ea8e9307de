// Package aqi holds pollutant display metadata and the concentration
// thresholds used to colour dashboard values. It does not compute an index;
// values are only bucketed into categories.
package aqi

import (
	"math"

	"github.com/kjstillabower/airquality-dashboard/internal/models"
)

// Pollutant is display metadata for a parameter.
type Pollutant struct {
	Parameter   models.Parameter `json:"parameter"`
	DisplayName string           `json:"displayName"`
	Description string           `json:"description"`
	Units       string           `json:"units"`
	Color       string           `json:"color"`
}

var pollutants = map[models.Parameter]Pollutant{
	models.ParameterPM25: {models.ParameterPM25, "PM2.5", "Fine particulate matter (≤ 2.5 micrometers)", "µg/m³", "#FF6B6B"},
	models.ParameterPM10: {models.ParameterPM10, "PM10", "Inhalable particulate matter (≤ 10 micrometers)", "µg/m³", "#4ECDC4"},
	models.ParameterNO2:  {models.ParameterNO2, "NO₂", "Nitrogen dioxide", "ppm", "#45B7D1"},
	models.ParameterO3:   {models.ParameterO3, "O₃", "Ground-level ozone", "ppm", "#96CEB4"},
	models.ParameterCO:   {models.ParameterCO, "CO", "Carbon monoxide", "ppm", "#FFEAA7"},
	models.ParameterSO2:  {models.ParameterSO2, "SO₂", "Sulfur dioxide", "ppm", "#DDA0DD"},
	models.ParameterBC:   {models.ParameterBC, "BC", "Black Carbon", "µg/m³", "#2C3E50"},
}

// DefaultColor is used for parameters without metadata.
const DefaultColor = "#1f77b4"

// Info returns display metadata for p.
func Info(p models.Parameter) (Pollutant, bool) {
	info, ok := pollutants[p]
	return info, ok
}

// All returns metadata for every supported parameter in display order.
func All() []Pollutant {
	out := make([]Pollutant, 0, len(models.Parameters))
	for _, p := range models.Parameters {
		out = append(out, pollutants[p])
	}
	return out
}

// Color returns the chart colour of p.
func Color(p models.Parameter) string {
	if info, ok := pollutants[p]; ok {
		return info.Color
	}
	return DefaultColor
}

// Category is a concentration band.
type Category struct {
	Name  string  `json:"name"`
	Color string  `json:"color"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// pm25Categories are the PM2.5 bands in µg/m³. Each band covers values up to
// and including Max; the last band is open-ended.
var pm25Categories = []Category{
	{"Good", "#00E400", 0, 12},
	{"Moderate", "#FFFF00", 12.1, 35.4},
	{"Unhealthy for Sensitive Groups", "#FF7E00", 35.5, 55.4},
	{"Unhealthy", "#FF0000", 55.5, 150.4},
	{"Very Unhealthy", "#8F3F97", 150.5, 250.4},
	{"Hazardous", "#7E0023", 250.5, math.Inf(1)},
}

var thresholds = map[models.Parameter][]Category{
	models.ParameterPM25: pm25Categories,
}

// Categories returns the bands used for p. Parameters without their own
// bands use the PM2.5 bands.
func Categories(p models.Parameter) []Category {
	if c, ok := thresholds[p]; ok {
		return c
	}
	return pm25Categories
}

// Categorize returns the band value falls in. Values between two published
// bands (for example 12.05) belong to the lower band. Negative and NaN values
// have no category.
func Categorize(p models.Parameter, value float64) (Category, bool) {
	if math.IsNaN(value) || value < 0 {
		return Category{}, false
	}
	bands := Categories(p)
	for _, c := range bands {
		if value <= c.Max {
			return c, true
		}
	}
	return bands[len(bands)-1], true
}
