package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
	"github.com/kjstillabower/airquality-dashboard/internal/aqi"
	"github.com/kjstillabower/airquality-dashboard/internal/lifecycle"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/ratelimit"
	"github.com/kjstillabower/airquality-dashboard/internal/service"
	"github.com/kjstillabower/airquality-dashboard/internal/table"
	"github.com/kjstillabower/airquality-dashboard/internal/traffic"
	"github.com/kjstillabower/airquality-dashboard/internal/validation"
)

// AirQuality is the data access surface the handlers serve.
type AirQuality interface {
	GetCountries(ctx context.Context, opts ...service.CallOption) ([]models.Country, error)
	GetParameters(ctx context.Context, opts ...service.CallOption) ([]models.ParameterInfo, error)
	GetLocations(ctx context.Context, filter service.LocationFilter, opts ...service.CallOption) ([]models.Location, error)
	GetCities(ctx context.Context, country string, opts ...service.CallOption) ([]string, error)
	GetLocation(ctx context.Context, id int, opts ...service.CallOption) (models.Location, error)
	GetMeasurements(ctx context.Context, locationID int, parameter models.Parameter, start, end time.Time, opts ...service.CallOption) ([]models.Measurement, error)
	GetAggregated(ctx context.Context, locationID int, parameter models.Parameter, period string, start, end time.Time, opts ...service.CallOption) ([]models.AggregatedMeasurement, error)
	GetLatest(ctx context.Context, locationIDs []int, opts ...service.CallOption) (map[int][]models.Measurement, error)
}

// UpstreamStatus reports the upstream circuit breaker state.
type UpstreamStatus interface {
	BreakerState() string
}

// QuotaReporter reports the outbound request quota.
type QuotaReporter interface {
	State(ctx context.Context) (ratelimit.State, error)
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	Version          string
	// CachePing, when set, is called to check cache reachability. Used for
	// the memcached and redis backends.
	CachePing func(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc              AirQuality
	upstream         UpstreamStatus
	quota            QuotaReporter
	outcomes         *traffic.Tracker
	healthConfig     *HealthConfig
	query            QueryConfig
	logger           *zap.Logger
	now              func() time.Time
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. upstream, quota, outcomes and
// healthConfig may be nil; the matching health checks are then skipped.
func NewHandler(
	svc AirQuality,
	upstream UpstreamStatus,
	quota QuotaReporter,
	outcomes *traffic.Tracker,
	healthConfig *HealthConfig,
	query QueryConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:          svc,
		upstream:     upstream,
		quota:        quota,
		outcomes:     outcomes,
		healthConfig: healthConfig,
		query:        query.withDefaults(),
		logger:       logger,
		now:          time.Now,
	}
}

type listResponse struct {
	Count   int         `json:"count"`
	Results interface{} `json:"results"`
}

// GetCountries handles GET /api/v1/countries.
func (h *Handler) GetCountries(w http.ResponseWriter, r *http.Request) {
	opts, err := callOptions(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	countries, err := h.svc.GetCountries(r.Context(), opts...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(countries), Results: countries})
}

// GetParameters handles GET /api/v1/parameters. Upstream parameter records
// are returned alongside the dashboard's own pollutant metadata.
func (h *Handler) GetParameters(w http.ResponseWriter, r *http.Request) {
	opts, err := callOptions(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	params, err := h.svc.GetParameters(r.Context(), opts...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(params),
		"results":    params,
		"pollutants": aqi.All(),
	})
}

// GetLocations handles GET /api/v1/locations?country=&city=&bbox=.
func (h *Handler) GetLocations(w http.ResponseWriter, r *http.Request) {
	filter, err := locationFilter(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	opts, err := callOptions(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	locs, err := h.svc.GetLocations(r.Context(), filter, opts...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(locs), Results: locs})
}

// GetCities handles GET /api/v1/cities?country=.
func (h *Handler) GetCities(w http.ResponseWriter, r *http.Request) {
	country, err := validation.CountryCode(r.URL.Query().Get("country"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	opts, err := callOptions(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	cities, err := h.svc.GetCities(r.Context(), country, opts...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(cities), Results: cities})
}

// GetLocation handles GET /api/v1/locations/{id}.
func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	id, err := locationID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	opts, err := callOptions(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	loc, err := h.svc.GetLocation(r.Context(), id, opts...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

type measurementsResponse struct {
	LocationID int              `json:"locationId"`
	Parameter  models.Parameter `json:"parameter"`
	From       time.Time        `json:"from"`
	To         time.Time        `json:"to"`
	Count      int              `json:"count"`
	Results    interface{}      `json:"results"`
}

// GetMeasurements handles GET /api/v1/locations/{id}/measurements?parameter=&from=&to=.
func (h *Handler) GetMeasurements(w http.ResponseWriter, r *http.Request) {
	id, err := locationID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	param, err := parameterOrDefault(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	from, to, err := h.timeRange(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	opts, err := callOptions(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	ms, err := h.svc.GetMeasurements(r.Context(), id, param, from, to, opts...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, measurementsResponse{
		LocationID: id, Parameter: param, From: from, To: to, Count: len(ms), Results: ms,
	})
}

// GetAggregates handles GET /api/v1/locations/{id}/aggregates/{period}.
func (h *Handler) GetAggregates(w http.ResponseWriter, r *http.Request) {
	id, err := locationID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	period, err := validation.Period(mux.Vars(r)["period"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	param, err := parameterOrDefault(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	from, to, err := h.timeRange(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	opts, err := callOptions(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	aggs, err := h.svc.GetAggregated(r.Context(), id, param, period, from, to, opts...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"locationId": id,
		"parameter":  param,
		"period":     period,
		"from":       from,
		"to":         to,
		"count":      len(aggs),
		"results":    aggs,
	})
}

// GetSeries handles GET /api/v1/locations/{id}/series?parameters=pm25,no2.
// Without parameters every pollutant the location measures is included.
// The response carries the long series, a per-timestamp pivot and summary
// statistics for charting.
func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	id, err := locationID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	params, err := parameterList(r.URL.Query().Get("parameters"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	from, to, err := h.timeRange(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	opts, err := callOptions(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	loc, err := h.svc.GetLocation(r.Context(), id, opts...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if len(params) == 0 {
		params = loc.Parameters
	}

	var all []models.Measurement
	pollutants := make([]aqi.Pollutant, 0, len(params))
	for _, p := range params {
		ms, err := h.svc.GetMeasurements(r.Context(), id, p, from, to, opts...)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		all = append(all, ms...)
		if info, ok := aqi.Info(p); ok {
			pollutants = append(pollutants, info)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"location":   loc,
		"from":       from,
		"to":         to,
		"pollutants": pollutants,
		"series":     table.SeriesFrame(all),
		"pivot":      table.PivotByParameter(all),
		"summary":    table.Summarize(all),
	})
}

// compareConcurrency bounds the per-location measurement calls of one
// comparison.
const compareConcurrency = 4

// GetCompare handles GET /api/v1/compare?locations=1,2&parameter=&from=&to=.
// A location that does not exist contributes an empty column.
func (h *Handler) GetCompare(w http.ResponseWriter, r *http.Request) {
	ids, err := validation.IDList(r.URL.Query().Get("locations"), h.query.MaxLatestLocations)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	param, err := parameterOrDefault(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	from, to, err := h.timeRange(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	opts, err := callOptions(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var mu sync.Mutex
	byLocation := make(map[int][]models.Measurement, len(ids))
	g, gctx := errgroup.WithContext(r.Context())
	g.SetLimit(compareConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			ms, err := h.svc.GetMeasurements(gctx, id, param, from, to, opts...)
			if errors.Is(err, aqerr.ErrNotFound) {
				ms, err = nil, nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			byLocation[id] = ms
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		writeServiceError(w, r, err)
		return
	}

	info, _ := aqi.Info(param)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"from":       from,
		"to":         to,
		"pollutant":  info,
		"comparison": table.Compare(byLocation, param),
	})
}

// GetLatest handles GET /api/v1/latest?locations=1,2.
func (h *Handler) GetLatest(w http.ResponseWriter, r *http.Request) {
	ids, err := validation.IDList(r.URL.Query().Get("locations"), h.query.MaxLatestLocations)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	opts, err := callOptions(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	latest, err := h.svc.GetLatest(r.Context(), ids, opts...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(latest), Results: latest})
}

// GetMap handles GET /api/v1/map?country=&parameter=. Locations measuring
// parameter are capped at MaxLatestLocations and coloured by category.
func (h *Handler) GetMap(w http.ResponseWriter, r *http.Request) {
	filter, err := locationFilter(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	param, err := parameterOrDefault(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	opts, err := callOptions(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	locs, err := h.svc.GetLocations(r.Context(), filter, opts...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	selected := make([]models.Location, 0, len(locs))
	ids := make([]int, 0, len(locs))
	truncated := false
	for _, l := range locs {
		if l.Coordinates == nil {
			continue
		}
		if _, ok := l.SensorFor(param); !ok {
			continue
		}
		if len(selected) == h.query.MaxLatestLocations {
			truncated = true
			break
		}
		selected = append(selected, l)
		ids = append(ids, l.ID)
	}
	latest, err := h.svc.GetLatest(r.Context(), ids, opts...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	info, _ := aqi.Info(param)
	markers := table.Markers(selected, latest, param)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"parameter":  param,
		"pollutant":  info,
		"categories": aqi.Categories(param),
		"count":      len(markers),
		"truncated":  truncated,
		"markers":    markers,
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health. It never calls OpenAQ.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.reason == "circuit_open" || result.reason == "error_rate_breach" {
		checks["openaq"] = "unhealthy"
	} else {
		checks["openaq"] = "healthy"
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "airquality-dashboard",
		"version":   "dev",
		"phase":     lifecycle.Phase(),
		"uptime":    lifecycle.Uptime().Round(time.Second).String(),
		"checks":    checks,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	if h.upstream != nil {
		resp["circuitBreaker"] = h.upstream.BreakerState()
	}
	if h.healthConfig != nil {
		if h.healthConfig.Version != "" {
			resp["version"] = h.healthConfig.Version
		}
		if h.healthConfig.CachePing != nil {
			if h.healthConfig.CachePing(r.Context()) == nil {
				checks["cache"] = "healthy"
			} else {
				checks["cache"] = "unhealthy"
			}
		}
	}
	if h.quota != nil {
		if st, err := h.quota.State(r.Context()); err == nil {
			resp["quota"] = st
		} else {
			checks["quota"] = "unknown"
		}
	}
	if h.outcomes != nil {
		resp["upstream"] = h.outcomes.Counts(h.degradedWindow())
	}
	writeJSON(w, result.statusCode, resp)
}

func (h *Handler) degradedWindow() time.Duration {
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		return h.healthConfig.DegradedWindow
	}
	return time.Minute
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > circuit open > error rate > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	switch lifecycle.Phase() {
	case lifecycle.PhaseShuttingDown:
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	case lifecycle.PhaseStarting:
		return healthResult{"starting", http.StatusServiceUnavailable, "startup"}
	}
	if h.upstream != nil && h.upstream.BreakerState() == "open" {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if h.outcomes != nil && h.healthConfig != nil && h.healthConfig.DegradedErrorPct > 0 {
		failures, total := h.outcomes.ErrorRate(h.degradedWindow())
		if total > 0 && float64(failures)*100/float64(total) >= float64(h.healthConfig.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}
