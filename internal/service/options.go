package service

import (
	"fmt"
	"strings"
)

// CallOption adjusts a single service call.
type CallOption func(*callOptions)

type callOptions struct {
	refresh    bool
	maxRecords int
}

func applyOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Refresh bypasses the cache lookup, always fetches from upstream and
// overwrites the stored entry.
func Refresh() CallOption {
	return func(o *callOptions) { o.refresh = true }
}

// MaxRecords caps the number of records fetched; pagination stops once n are
// collected. n <= 0 means no cap.
func MaxRecords(n int) CallOption {
	return func(o *callOptions) {
		if n > 0 {
			o.maxRecords = n
		}
	}
}

// BBox is a WGS84 bounding box.
type BBox struct {
	MinLon float64 `json:"minLon"`
	MinLat float64 `json:"minLat"`
	MaxLon float64 `json:"maxLon"`
	MaxLat float64 `json:"maxLat"`
}

// String renders the box in the upstream "minLon,minLat,maxLon,maxLat" form.
func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// LocationFilter narrows GetLocations. Country is an ISO 3166-1 alpha-2 code;
// City matches the location's locality case-insensitively.
type LocationFilter struct {
	Country string
	City    string
	BBox    *BBox
}

func (f LocationFilter) normalized() LocationFilter {
	f.Country = strings.ToUpper(strings.TrimSpace(f.Country))
	f.City = strings.TrimSpace(f.City)
	return f
}
