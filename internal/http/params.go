package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/service"
	"github.com/kjstillabower/airquality-dashboard/internal/validation"
)

var (
	errLimitInvalid   = fmt.Errorf("%w: limit must be a positive integer", aqerr.ErrInvalidInput)
	errFilterRequired = fmt.Errorf("%w: country or bbox is required", aqerr.ErrInvalidInput)
)

// QueryConfig bounds dashboard queries.
type QueryConfig struct {
	DefaultRange       time.Duration
	MaxRange           time.Duration
	MaxLatestLocations int
}

func (c QueryConfig) withDefaults() QueryConfig {
	if c.DefaultRange <= 0 {
		c.DefaultRange = 24 * time.Hour
	}
	if c.MaxLatestLocations <= 0 {
		c.MaxLatestLocations = 50
	}
	return c
}

// callOptions maps refresh=true and limit=N onto service options.
func callOptions(r *http.Request) ([]service.CallOption, error) {
	q := r.URL.Query()
	var opts []service.CallOption
	if refresh, _ := strconv.ParseBool(q.Get("refresh")); refresh {
		opts = append(opts, service.Refresh())
	}
	if s := strings.TrimSpace(q.Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return nil, errLimitInvalid
		}
		opts = append(opts, service.MaxRecords(n))
	}
	return opts, nil
}

func locationID(r *http.Request) (int, error) {
	return validation.ID(mux.Vars(r)["id"])
}

// parameterOrDefault parses the parameter query value, defaulting to PM2.5.
func parameterOrDefault(r *http.Request) (models.Parameter, error) {
	s := r.URL.Query().Get("parameter")
	if strings.TrimSpace(s) == "" {
		return models.ParameterPM25, nil
	}
	return validation.Parameter(s)
}

// parameterList parses a comma-separated parameter list. An empty list is
// returned as nil.
func parameterList(s string) ([]models.Parameter, error) {
	var out []models.Parameter
	seen := make(map[models.Parameter]bool)
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		p, err := validation.Parameter(part)
		if err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func (h *Handler) timeRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	return validation.TimeRange(q.Get("from"), q.Get("to"), h.now(), h.query.DefaultRange, h.query.MaxRange)
}

// locationFilter reads country, city and bbox. At least one of country and
// bbox must be present.
func locationFilter(r *http.Request) (service.LocationFilter, error) {
	q := r.URL.Query()
	var f service.LocationFilter
	if s := q.Get("country"); strings.TrimSpace(s) != "" {
		code, err := validation.CountryCode(s)
		if err != nil {
			return f, err
		}
		f.Country = code
	}
	city, err := validation.City(q.Get("city"))
	if err != nil {
		return f, err
	}
	f.City = city
	if s := q.Get("bbox"); strings.TrimSpace(s) != "" {
		b, err := validation.BBox(s)
		if err != nil {
			return f, err
		}
		f.BBox = &service.BBox{MinLon: b[0], MinLat: b[1], MaxLon: b[2], MaxLat: b[3]}
	}
	if f.Country == "" && f.BBox == nil {
		return f, errFilterRequired
	}
	return f, nil
}
