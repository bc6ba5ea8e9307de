package client

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Aggregation periods served by the sensor roll-up endpoints.
const (
	PeriodHour = "hour"
	PeriodDay  = "day"
)

// CountriesRequest lists every country.
func CountriesRequest() Request {
	return Request{Endpoint: "/countries"}
}

// ParametersRequest lists every parameter the API knows.
func ParametersRequest() Request {
	return Request{Endpoint: "/parameters"}
}

// LocationsRequest lists locations, optionally filtered by ISO country code
// and a "minLon,minLat,maxLon,maxLat" bounding box.
func LocationsRequest(iso, bbox string) Request {
	p := url.Values{}
	if iso != "" {
		p.Set("iso", iso)
	}
	if bbox != "" {
		p.Set("bbox", bbox)
	}
	return Request{Endpoint: "/locations", Params: p}
}

// LocationRequest fetches a single location.
func LocationRequest(id int) Request {
	return Request{Endpoint: "/locations/" + strconv.Itoa(id)}
}

// LatestRequest fetches the most recent value of each sensor at a location.
func LatestRequest(locationID int) Request {
	return Request{Endpoint: fmt.Sprintf("/locations/%d/latest", locationID)}
}

// MeasurementsRequest pages a sensor's raw measurements within [from, to].
func MeasurementsRequest(sensorID int, from, to time.Time) Request {
	return Request{
		Endpoint: fmt.Sprintf("/sensors/%d/measurements", sensorID),
		Params:   timeRange(from, to),
	}
}

// AggregatesRequest pages a sensor's hourly or daily roll-ups within [from, to].
func AggregatesRequest(sensorID int, period string, from, to time.Time) (Request, error) {
	var path string
	switch period {
	case PeriodHour:
		path = "hours"
	case PeriodDay:
		path = "days"
	default:
		return Request{}, fmt.Errorf("unsupported aggregation period %q", period)
	}
	return Request{
		Endpoint: fmt.Sprintf("/sensors/%d/%s", sensorID, path),
		Params:   timeRange(from, to),
	}, nil
}

func timeRange(from, to time.Time) url.Values {
	p := url.Values{}
	if !from.IsZero() {
		p.Set("datetime_from", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		p.Set("datetime_to", to.UTC().Format(time.RFC3339))
	}
	return p
}
