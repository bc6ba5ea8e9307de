// Package table shapes measurements into the row/column form the dashboard
// charts, tables and map consume.
package table

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/kjstillabower/airquality-dashboard/internal/aqi"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
)

// Frame is a column-labelled table. Missing cells are nil.
type Frame struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// SeriesColumns are the columns of SeriesFrame.
var SeriesColumns = []string{"datetime", "location_id", "parameter", "value", "unit"}

// SeriesFrame returns one row per measurement, in input order.
func SeriesFrame(ms []models.Measurement) Frame {
	f := Frame{Columns: append([]string(nil), SeriesColumns...), Rows: make([][]any, 0, len(ms))}
	for _, m := range ms {
		f.Rows = append(f.Rows, []any{
			m.Timestamp.UTC().Format(time.RFC3339),
			m.LocationID,
			string(m.Parameter),
			m.Value,
			m.Unit,
		})
	}
	return f
}

// PivotByParameter returns one row per timestamp in ascending order and one
// column per parameter present. Several readings of the same parameter at the
// same timestamp are averaged.
func PivotByParameter(ms []models.Measurement) Frame {
	present := make(map[models.Parameter]bool)
	for _, m := range ms {
		present[m.Parameter] = true
	}
	params := orderedParameters(present)
	return pivot(ms, func(m models.Measurement) models.Parameter { return m.Parameter }, params,
		func(p models.Parameter) string { return string(p) })
}

// pivot builds a datetime-indexed frame with one column per key in cols.
// Readings sharing a timestamp and key are averaged.
func pivot[K comparable](ms []models.Measurement, key func(models.Measurement) K, cols []K, label func(K) string) Frame {
	type cell struct {
		sum float64
		n   int
	}
	byTime := make(map[int64]map[K]*cell)
	var stamps []int64
	for _, m := range ms {
		ts := m.Timestamp.UTC().Unix()
		row, ok := byTime[ts]
		if !ok {
			row = make(map[K]*cell)
			byTime[ts] = row
			stamps = append(stamps, ts)
		}
		k := key(m)
		c, ok := row[k]
		if !ok {
			c = &cell{}
			row[k] = c
		}
		c.sum += m.Value
		c.n++
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	f := Frame{Columns: make([]string, 0, len(cols)+1), Rows: make([][]any, 0, len(stamps))}
	f.Columns = append(f.Columns, "datetime")
	for _, k := range cols {
		f.Columns = append(f.Columns, label(k))
	}
	for _, ts := range stamps {
		row := make([]any, 0, len(cols)+1)
		row = append(row, time.Unix(ts, 0).UTC().Format(time.RFC3339))
		for _, k := range cols {
			if c, ok := byTime[ts][k]; ok {
				row = append(row, c.sum/float64(c.n))
			} else {
				row = append(row, nil)
			}
		}
		f.Rows = append(f.Rows, row)
	}
	return f
}

// orderedParameters returns known parameters in display order followed by
// any others sorted by name.
func orderedParameters(present map[models.Parameter]bool) []models.Parameter {
	out := make([]models.Parameter, 0, len(present))
	known := make(map[models.Parameter]bool, len(models.Parameters))
	for _, p := range models.Parameters {
		known[p] = true
		if present[p] {
			out = append(out, p)
		}
	}
	var extra []models.Parameter
	for p := range present {
		if !known[p] {
			extra = append(extra, p)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// NoDataColor and NoDataCategory mark locations without a recent reading.
const (
	NoDataColor    = "gray"
	NoDataCategory = "No recent data"
)

// Marker is a map point for one location.
type Marker struct {
	LocationID int              `json:"locationId"`
	Name       string           `json:"name"`
	City       string           `json:"city,omitempty"`
	Country    string           `json:"country,omitempty"`
	Latitude   float64          `json:"latitude"`
	Longitude  float64          `json:"longitude"`
	Parameter  models.Parameter `json:"parameter"`
	Value      *float64         `json:"value"`
	Unit       string           `json:"unit,omitempty"`
	Timestamp  *time.Time       `json:"timestamp,omitempty"`
	Category   string           `json:"category"`
	Color      string           `json:"color"`
}

// Markers builds a map marker per location with coordinates, coloured by the
// category of its latest reading of parameter.
func Markers(locations []models.Location, latest map[int][]models.Measurement, parameter models.Parameter) []Marker {
	out := make([]Marker, 0, len(locations))
	for _, loc := range locations {
		if loc.Coordinates == nil {
			continue
		}
		mk := Marker{
			LocationID: loc.ID,
			Name:       loc.Name,
			City:       loc.City,
			Country:    loc.Country,
			Latitude:   loc.Coordinates.Latitude,
			Longitude:  loc.Coordinates.Longitude,
			Parameter:  parameter,
			Category:   NoDataCategory,
			Color:      NoDataColor,
		}
		if m, ok := newest(latest[loc.ID], parameter); ok {
			v, ts := m.Value, m.Timestamp
			mk.Value = &v
			mk.Timestamp = &ts
			mk.Unit = m.Unit
			if c, ok := aqi.Categorize(parameter, m.Value); ok {
				mk.Category = c.Name
				mk.Color = c.Color
			}
		}
		out = append(out, mk)
	}
	return out
}

func newest(ms []models.Measurement, p models.Parameter) (models.Measurement, bool) {
	var best models.Measurement
	found := false
	for _, m := range ms {
		if m.Parameter != p {
			continue
		}
		if !found || m.Timestamp.After(best.Timestamp) {
			best = m
			found = true
		}
	}
	return best, found
}

// Summary holds descriptive statistics for one parameter.
type Summary struct {
	Parameter models.Parameter `json:"parameter"`
	Unit      string           `json:"unit"`
	Count     int              `json:"count"`
	Min       float64          `json:"min"`
	Max       float64          `json:"max"`
	Mean      float64          `json:"mean"`
	Latest    float64          `json:"latest"`
	LatestAt  time.Time        `json:"latestAt"`
}

// Summarize returns per-parameter statistics in display order.
func Summarize(ms []models.Measurement) []Summary {
	acc := make(map[models.Parameter]*Summary)
	sums := make(map[models.Parameter]float64)
	present := make(map[models.Parameter]bool)
	for _, m := range ms {
		s, ok := acc[m.Parameter]
		if !ok {
			s = &Summary{Parameter: m.Parameter, Unit: m.Unit, Min: math.Inf(1), Max: math.Inf(-1)}
			acc[m.Parameter] = s
			present[m.Parameter] = true
		}
		s.Count++
		s.Min = math.Min(s.Min, m.Value)
		s.Max = math.Max(s.Max, m.Value)
		sums[m.Parameter] += m.Value
		if s.Count == 1 || m.Timestamp.After(s.LatestAt) {
			s.Latest = m.Value
			s.LatestAt = m.Timestamp
		}
	}
	out := make([]Summary, 0, len(acc))
	for _, p := range orderedParameters(present) {
		s := acc[p]
		s.Mean = sums[p] / float64(s.Count)
		out = append(out, *s)
	}
	return out
}

// LocationSummary is the statistics of one parameter at one location.
type LocationSummary struct {
	LocationID int `json:"locationId"`
	Summary
}

// Comparison lines up one parameter across several locations.
type Comparison struct {
	Parameter models.Parameter  `json:"parameter"`
	Series    Frame             `json:"series"`
	Summaries []LocationSummary `json:"summaries"`
}

// Compare pivots the readings of parameter at each location into one column
// per location id, ascending, and summarizes each location. Readings of other
// parameters are ignored. A location without readings keeps its column and a
// zero-count summary.
func Compare(byLocation map[int][]models.Measurement, parameter models.Parameter) Comparison {
	ids := make([]int, 0, len(byLocation))
	for id := range byLocation {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var all []models.Measurement
	summaries := make([]LocationSummary, 0, len(ids))
	for _, id := range ids {
		var own []models.Measurement
		for _, m := range byLocation[id] {
			if m.Parameter != parameter {
				continue
			}
			m.LocationID = id
			own = append(own, m)
		}
		all = append(all, own...)
		s := Summary{Parameter: parameter}
		if sums := Summarize(own); len(sums) == 1 {
			s = sums[0]
		}
		summaries = append(summaries, LocationSummary{LocationID: id, Summary: s})
	}
	return Comparison{
		Parameter: parameter,
		Series:    pivot(all, func(m models.Measurement) int { return m.LocationID }, ids, strconv.Itoa),
		Summaries: summaries,
	}
}
