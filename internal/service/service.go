// Package service is the API access layer the dashboard calls. It serves
// normalized records from the cache when fresh, otherwise fetches them through
// the rate-limited OpenAQ client, and stores the result for the next caller.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
	"github.com/kjstillabower/airquality-dashboard/internal/cache"
	"github.com/kjstillabower/airquality-dashboard/internal/client"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// Default cache lifetimes.
const (
	DefaultRealtimeTTL = 5 * time.Minute
	DefaultMetadataTTL = time.Hour
)

const defaultLatestConcurrency = 4

// Data kinds used as cache metric labels.
const (
	kindCountries    = "countries"
	kindParameters   = "parameters"
	kindLocations    = "locations"
	kindLocation     = "location"
	kindLatest       = "latest"
	kindMeasurements = "measurements"
	kindAggregates   = "aggregates"
)

// Fetcher returns raw upstream records. *client.OpenAQClient satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, req client.Request) ([]json.RawMessage, error)
}

// Config tunes the service. Zero values use the defaults.
type Config struct {
	RealtimeTTL       time.Duration
	MetadataTTL       time.Duration
	LatestConcurrency int
}

// AirQualityService implements cache-aside access to OpenAQ data.
type AirQualityService struct {
	fetcher Fetcher
	decoder *client.Decoder
	cache   cache.Cache
	cfg     Config
	group   singleflight.Group
	logger  *zap.Logger
	now     func() time.Time
}

// NewAirQualityService wires a fetcher and a cache backend.
func NewAirQualityService(fetcher Fetcher, c cache.Cache, cfg Config, logger *zap.Logger) *AirQualityService {
	if cfg.RealtimeTTL <= 0 {
		cfg.RealtimeTTL = DefaultRealtimeTTL
	}
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = DefaultMetadataTTL
	}
	if cfg.LatestConcurrency <= 0 {
		cfg.LatestConcurrency = defaultLatestConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AirQualityService{
		fetcher: fetcher,
		decoder: client.NewDecoder(),
		cache:   c,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// GetCountries lists the countries OpenAQ covers.
func (s *AirQualityService) GetCountries(ctx context.Context, opts ...CallOption) ([]models.Country, error) {
	recs, err := load(ctx, s, kindCountries, client.CountriesRequest(), s.cfg.MetadataTTL, applyOptions(opts), s.decoder.Countries)
	return orEmpty(ctx, s, kindCountries, recs, err)
}

// GetParameters lists the parameters OpenAQ reports.
func (s *AirQualityService) GetParameters(ctx context.Context, opts ...CallOption) ([]models.ParameterInfo, error) {
	recs, err := load(ctx, s, kindParameters, client.ParametersRequest(), s.cfg.MetadataTTL, applyOptions(opts), s.decoder.Parameters)
	return orEmpty(ctx, s, kindParameters, recs, err)
}

// GetLocations lists monitoring locations matching filter. The country and
// bounding box are applied upstream; the city is matched locally against
// each location's locality, so every city of a country shares one cache entry.
func (s *AirQualityService) GetLocations(ctx context.Context, filter LocationFilter, opts ...CallOption) ([]models.Location, error) {
	filter = filter.normalized()
	bbox := ""
	if filter.BBox != nil {
		bbox = filter.BBox.String()
	}
	locs, err := load(ctx, s, kindLocations, client.LocationsRequest(filter.Country, bbox), s.cfg.MetadataTTL, applyOptions(opts), s.decoder.Locations)
	locs, err = orEmpty(ctx, s, kindLocations, locs, err)
	if err != nil {
		return nil, err
	}
	if filter.City == "" {
		return locs, nil
	}
	out := make([]models.Location, 0, len(locs))
	for _, l := range locs {
		if strings.EqualFold(strings.TrimSpace(l.City), filter.City) {
			out = append(out, l)
		}
	}
	return out, nil
}

// GetCities lists the distinct localities of a country's locations, sorted
// case-insensitively. It reads the same cache entry as GetLocations.
func (s *AirQualityService) GetCities(ctx context.Context, country string, opts ...CallOption) ([]string, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		return nil, fmt.Errorf("%w: country is required", aqerr.ErrInvalidInput)
	}
	locs, err := s.GetLocations(ctx, LocationFilter{Country: country}, opts...)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(locs))
	cities := make([]string, 0, len(locs))
	for _, l := range locs {
		city := strings.TrimSpace(l.City)
		key := strings.ToLower(city)
		if city == "" || seen[key] {
			continue
		}
		seen[key] = true
		cities = append(cities, city)
	}
	sort.Slice(cities, func(i, j int) bool { return strings.ToLower(cities[i]) < strings.ToLower(cities[j]) })
	return cities, nil
}

// GetLocation returns a single location with its sensors. A location whose
// record is malformed is reported as not found.
func (s *AirQualityService) GetLocation(ctx context.Context, id int, opts ...CallOption) (models.Location, error) {
	if id <= 0 {
		return models.Location{}, fmt.Errorf("%w: location id must be positive, got %d", aqerr.ErrInvalidInput, id)
	}
	loc, err := s.location(ctx, id, applyOptions(opts))
	if errors.Is(err, aqerr.ErrData) {
		s.dataError(ctx, kindLocation, err)
		return models.Location{}, fmt.Errorf("%w: location %d has no usable record", aqerr.ErrNotFound, id)
	}
	return loc, err
}

// location loads one location and keeps data errors visible to the caller.
func (s *AirQualityService) location(ctx context.Context, id int, o callOptions) (models.Location, error) {
	locs, err := load(ctx, s, kindLocation, client.LocationRequest(id), s.cfg.MetadataTTL, o, s.decoder.Locations)
	if err != nil {
		return models.Location{}, err
	}
	if len(locs) == 0 {
		return models.Location{}, fmt.Errorf("%w: location %d", aqerr.ErrNotFound, id)
	}
	return locs[0], nil
}

// GetMeasurements returns the readings of one parameter at a location within
// [start, end], oldest first as served upstream. Entries are keyed by location
// and parameter, so a hit never consults location metadata; on a miss the
// sensor is resolved first.
func (s *AirQualityService) GetMeasurements(ctx context.Context, locationID int, parameter models.Parameter, start, end time.Time, opts ...CallOption) ([]models.Measurement, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	endpoint, key := seriesKey(locationID, parameter, "measurements", start, end, o.maxRecords)
	recs, err := loadKeyed(ctx, s, kindMeasurements, endpoint, key, s.cfg.RealtimeTTL, o, func(ctx context.Context) ([]models.Measurement, error) {
		loc, sensor, err := s.resolveSensor(ctx, locationID, parameter)
		if err != nil {
			return nil, err
		}
		req := client.MeasurementsRequest(sensor.ID, start, end)
		req.MaxRecords = o.maxRecords
		raws, err := s.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return s.decoder.Measurements(raws, loc.ID, sensor.ID)
	})
	return orEmpty(ctx, s, kindMeasurements, recs, err)
}

// GetAggregated returns hourly or daily roll-ups of one parameter at a location.
func (s *AirQualityService) GetAggregated(ctx context.Context, locationID int, parameter models.Parameter, period string, start, end time.Time, opts ...CallOption) ([]models.AggregatedMeasurement, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	if period != client.PeriodHour && period != client.PeriodDay {
		return nil, fmt.Errorf("%w: unsupported aggregation period %q", aqerr.ErrInvalidInput, period)
	}
	o := applyOptions(opts)
	endpoint, key := seriesKey(locationID, parameter, "aggregates/"+period, start, end, o.maxRecords)
	recs, err := loadKeyed(ctx, s, kindAggregates, endpoint, key, s.cfg.RealtimeTTL, o, func(ctx context.Context) ([]models.AggregatedMeasurement, error) {
		loc, sensor, err := s.resolveSensor(ctx, locationID, parameter)
		if err != nil {
			return nil, err
		}
		req, err := client.AggregatesRequest(sensor.ID, period, start, end)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", aqerr.ErrInvalidInput, err)
		}
		req.MaxRecords = o.maxRecords
		raws, err := s.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return s.decoder.Aggregates(raws, loc.ID, sensor.ID, period)
	})
	return orEmpty(ctx, s, kindAggregates, recs, err)
}

// GetLatest returns the most recent reading of every tracked parameter for
// each location, keyed by location id. Locations are fetched concurrently
// with bounded parallelism; the first hard failure cancels the rest. A
// location whose data is malformed maps to an empty slice.
func (s *AirQualityService) GetLatest(ctx context.Context, locationIDs []int, opts ...CallOption) (map[int][]models.Measurement, error) {
	o := applyOptions(opts)
	ids := uniqueIDs(locationIDs)
	out := make(map[int][]models.Measurement, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.LatestConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			ms, err := s.latest(gctx, id, o)
			ms, err = orEmpty(gctx, s, kindLatest, ms, err)
			if err != nil {
				return err
			}
			mu.Lock()
			out[id] = ms
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// latest checks the cached readings before touching location metadata, which
// is only needed to map sensor ids on a miss.
func (s *AirQualityService) latest(ctx context.Context, id int, o callOptions) ([]models.Measurement, error) {
	req := client.LatestRequest(id)
	req.MaxRecords = o.maxRecords
	key := cache.Fingerprint(req.Endpoint, fingerprintParams(req))
	return loadKeyed(ctx, s, kindLatest, req.Endpoint, key, s.cfg.RealtimeTTL, o, func(ctx context.Context) ([]models.Measurement, error) {
		loc, err := s.location(ctx, id, callOptions{})
		if err != nil {
			return nil, err
		}
		raws, err := s.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return s.decoder.Latest(raws, loc)
	})
}

// WarmMetadata refreshes the countries and parameters entries.
func (s *AirQualityService) WarmMetadata(ctx context.Context) error {
	_, errC := s.GetCountries(ctx, Refresh())
	_, errP := s.GetParameters(ctx, Refresh())
	return errors.Join(errC, errP)
}

// WarmLatest refreshes the latest readings of the given locations.
func (s *AirQualityService) WarmLatest(ctx context.Context, locationIDs []int) error {
	_, err := s.GetLatest(ctx, locationIDs, Refresh())
	return err
}

func (s *AirQualityService) resolveSensor(ctx context.Context, locationID int, parameter models.Parameter) (models.Location, models.Sensor, error) {
	loc, err := s.location(ctx, locationID, callOptions{})
	if err != nil {
		return models.Location{}, models.Sensor{}, err
	}
	sensor, ok := loc.SensorFor(parameter)
	if !ok {
		return models.Location{}, models.Sensor{}, fmt.Errorf("%w: location %d has no %s sensor", aqerr.ErrNotFound, locationID, parameter)
	}
	return loc, sensor, nil
}

// load fetches req on a miss and decodes the records.
func load[T any](ctx context.Context, s *AirQualityService, kind string, req client.Request, ttl time.Duration, o callOptions, decode func([]json.RawMessage) ([]T, error)) ([]T, error) {
	req.MaxRecords = o.maxRecords
	key := cache.Fingerprint(req.Endpoint, fingerprintParams(req))
	return loadKeyed(ctx, s, kind, req.Endpoint, key, ttl, o, func(ctx context.Context) ([]T, error) {
		raws, err := s.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return decode(raws)
	})
}

// loadKeyed is the cache-aside path shared by every operation. A fresh entry
// under key is decoded and returned without touching the limiter or the
// network. On a miss (or with Refresh) fetch runs and its records are stored
// with a new InsertedAt. Concurrent misses for one key share a single fetch
// unless refreshing; that fetch runs detached from any one caller's
// cancellation, and each caller stops waiting when its own ctx ends.
// Data errors are returned to the caller; see orEmpty.
func loadKeyed[T any](ctx context.Context, s *AirQualityService, kind, endpoint, key string, ttl time.Duration, o callOptions, fetch func(context.Context) ([]T, error)) ([]T, error) {
	logger := observability.LoggerFrom(ctx, s.logger)
	if !o.refresh {
		if recs, ok := cached[T](ctx, s, kind, key, logger); ok {
			return recs, nil
		}
	}
	observability.CacheMissesTotal.WithLabelValues(kind).Inc()
	logger.Debug("cache miss", zap.String("kind", kind), zap.String("endpoint", endpoint), zap.Bool("refresh", o.refresh))

	fill := func(ctx context.Context) ([]T, error) {
		recs, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.store(ctx, kind, key, recs, ttl, logger)
		return recs, nil
	}

	if o.refresh {
		recs, err := fill(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		return recs, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return fill(detached)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", kind, ctx.Err())
	case res := <-ch:
		if res.Shared {
			observability.RequestsCoalescedTotal.WithLabelValues(kind).Inc()
		}
		if res.Err != nil {
			return nil, fmt.Errorf("%s: %w", kind, res.Err)
		}
		return res.Val.([]T), nil
	}
}

// orEmpty applies the data-error policy at the public boundary: malformed
// upstream data is logged and counted, and the caller gets an empty, non-nil
// result with a nil error.
func orEmpty[T any](ctx context.Context, s *AirQualityService, kind string, recs []T, err error) ([]T, error) {
	if err == nil || !errors.Is(err, aqerr.ErrData) {
		return recs, err
	}
	s.dataError(ctx, kind, err)
	return []T{}, nil
}

func (s *AirQualityService) dataError(ctx context.Context, kind string, err error) {
	observability.DataErrorsTotal.WithLabelValues(kind).Inc()
	observability.LoggerFrom(ctx, s.logger).Warn("malformed upstream data, returning empty result", zap.String("kind", kind), zap.Error(err))
}

func cached[T any](ctx context.Context, s *AirQualityService, kind, key string, logger *zap.Logger) ([]T, bool) {
	entry, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed", zap.String("kind", kind), zap.Error(err))
		return nil, false
	}
	if !ok || entry.Expired(s.now()) {
		return nil, false
	}
	var recs []T
	if err := json.Unmarshal(entry.Payload, &recs); err != nil || recs == nil {
		observability.CacheErrorsTotal.WithLabelValues("decode").Inc()
		logger.Warn("discarding undecodable cache entry", zap.String("kind", kind), zap.Error(err))
		_ = s.cache.Delete(ctx, key)
		return nil, false
	}
	observability.CacheHitsTotal.WithLabelValues(kind).Inc()
	logger.Debug("cache hit", zap.String("kind", kind), zap.Time("inserted_at", entry.InsertedAt))
	return recs, true
}

func (s *AirQualityService) store(ctx context.Context, kind, key string, recs interface{}, ttl time.Duration, logger *zap.Logger) {
	payload, err := json.Marshal(recs)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("encode").Inc()
		logger.Warn("cache encode failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	entry := cache.Entry{Key: key, Payload: payload, InsertedAt: s.now(), TTL: ttl}
	if err := s.cache.Set(ctx, entry); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("cache set failed", zap.String("kind", kind), zap.Error(err))
	}
}

// fingerprintParams adds the record cap to the query so truncated and full
// results never share an entry.
func fingerprintParams(req client.Request) url.Values {
	p := url.Values{}
	for k, v := range req.Params {
		p[k] = v
	}
	if req.MaxRecords > 0 {
		p.Set("max_records", strconv.Itoa(req.MaxRecords))
	}
	return p
}

// seriesKey keys a per-sensor series by location and parameter instead of
// sensor id, so a lookup needs no location metadata. The endpoint is only
// used in logs.
func seriesKey(locationID int, parameter models.Parameter, series string, start, end time.Time, maxRecords int) (string, string) {
	endpoint := fmt.Sprintf("/locations/%d/%s/%s", locationID, parameter, series)
	p := url.Values{}
	if !start.IsZero() {
		p.Set("datetime_from", start.UTC().Format(time.RFC3339))
	}
	if !end.IsZero() {
		p.Set("datetime_to", end.UTC().Format(time.RFC3339))
	}
	if maxRecords > 0 {
		p.Set("max_records", strconv.Itoa(maxRecords))
	}
	return endpoint, cache.Fingerprint(endpoint, p)
}

func checkRange(start, end time.Time) error {
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return fmt.Errorf("%w: start %s is after end %s", aqerr.ErrInvalidInput, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return nil
}

func uniqueIDs(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}
