// Package validation checks dashboard query input before it reaches the
// service layer. Every error wraps aqerr.ErrInvalidInput.
package validation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
)

var (
	ErrCountryInvalid   = fmt.Errorf("%w: country must be a two-letter ISO code", aqerr.ErrInvalidInput)
	ErrCityInvalid      = fmt.Errorf("%w: city contains invalid characters or is too long", aqerr.ErrInvalidInput)
	ErrParameterInvalid = fmt.Errorf("%w: unknown parameter", aqerr.ErrInvalidInput)
	ErrIDInvalid        = fmt.Errorf("%w: id must be a positive integer", aqerr.ErrInvalidInput)
	ErrTimeInvalid      = fmt.Errorf("%w: time must be RFC3339 or YYYY-MM-DD", aqerr.ErrInvalidInput)
	ErrRangeInvalid     = fmt.Errorf("%w: invalid time range", aqerr.ErrInvalidInput)
	ErrPeriodInvalid    = fmt.Errorf("%w: period must be hour or day", aqerr.ErrInvalidInput)
	ErrBBoxInvalid      = fmt.Errorf("%w: bbox must be minLon,minLat,maxLon,maxLat", aqerr.ErrInvalidInput)
)

// MaxCityLen bounds the city filter in runes.
const MaxCityLen = 100

// CountryCode trims and upper-cases s and requires two ASCII letters.
func CountryCode(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'A' || s[0] > 'Z' || s[1] < 'A' || s[1] > 'Z' {
		return "", ErrCountryInvalid
	}
	return s, nil
}

// City trims s and allows letters, digits, space, comma, hyphen, apostrophe
// and period. An empty city is valid and means no filter.
func City(s string) (string, error) {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > MaxCityLen {
		return "", ErrCityInvalid
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalid
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '.':
		return true
	}
	return false
}

// Parameter parses a pollutant name such as "pm25" or "PM2.5".
func Parameter(s string) (models.Parameter, error) {
	p, err := models.ParseParameter(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrParameterInvalid, strings.TrimSpace(s))
	}
	return p, nil
}

// ID parses a positive integer id.
func ID(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, ErrIDInvalid
	}
	return n, nil
}

// IDList parses a comma-separated id list. Blank items are skipped; the list
// must hold between one and max ids (max <= 0 means unbounded).
func IDList(s string, max int) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := ID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one id is required", ErrIDInvalid)
	}
	if max > 0 && len(ids) > max {
		return nil, fmt.Errorf("%w: at most %d ids", ErrIDInvalid, max)
	}
	return ids, nil
}

// TimeRange parses optional start and end bounds. A missing end is now; a
// missing start is end minus defaultWindow. start must precede end, and the
// span may not exceed maxWindow when maxWindow > 0.
func TimeRange(start, end string, now time.Time, defaultWindow, maxWindow time.Duration) (time.Time, time.Time, error) {
	to := now.UTC()
	if strings.TrimSpace(end) != "" {
		t, err := parseTime(end)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	from := to.Add(-defaultWindow)
	if strings.TrimSpace(start) != "" {
		t, err := parseTime(start)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start must be before end", ErrRangeInvalid)
	}
	if maxWindow > 0 && to.Sub(from) > maxWindow {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: span exceeds %s", ErrRangeInvalid, maxWindow)
	}
	return from, to, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrTimeInvalid, s)
}

// Period accepts hour/day and their plurals.
func Period(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hour", "hours", "hourly":
		return "hour", nil
	case "day", "days", "daily":
		return "day", nil
	}
	return "", ErrPeriodInvalid
}

// BBox parses "minLon,minLat,maxLon,maxLat" in WGS84 degrees.
func BBox(s string) ([4]float64, error) {
	var out [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return out, ErrBBoxInvalid
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, ErrBBoxInvalid
		}
		out[i] = v
	}
	minLon, minLat, maxLon, maxLat := out[0], out[1], out[2], out[3]
	if minLon < -180 || maxLon > 180 || minLat < -90 || maxLat > 90 || minLon >= maxLon || minLat >= maxLat {
		return out, ErrBBoxInvalid
	}
	return out, nil
}
