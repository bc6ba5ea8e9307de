package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/cache"
	"github.com/kjstillabower/airquality-dashboard/internal/client"
	"github.com/kjstillabower/airquality-dashboard/internal/lifecycle"
	"github.com/kjstillabower/airquality-dashboard/internal/ratelimit"
	"github.com/kjstillabower/airquality-dashboard/internal/service"
	"github.com/kjstillabower/airquality-dashboard/internal/traffic"
)

const (
	stackDelNorte = `{"id":2178,"name":"Del Norte","locality":"Albuquerque",
		"country":{"id":155,"code":"US","name":"United States"},
		"coordinates":{"latitude":35.1353,"longitude":-106.5847},
		"sensors":[{"id":3917,"name":"pm25","parameter":{"id":2,"name":"pm25","units":"µg/m³"}}]}`
	stackFresno = `{"id":9000,"name":"Fresno","locality":"Fresno",
		"country":{"id":155,"code":"US","name":"United States"},
		"coordinates":{"latitude":36.78,"longitude":-119.77},
		"sensors":[{"id":5001,"name":"pm25","parameter":{"id":2,"name":"pm25","units":"µg/m³"}}]}`
)

// upstream is a minimal OpenAQ v3 stand-in that counts hits per path.
type upstream struct {
	mu     sync.Mutex
	hits   map[string]int
	status int
}

var upstreamRoutes = map[string]string{
	"/countries":             `[{"id":155,"code":"US","name":"United States"}]`,
	"/locations":             "[" + stackDelNorte + "," + stackFresno + "]",
	"/locations/2178":        "[" + stackDelNorte + "]",
	"/locations/9000":        "[" + stackFresno + "]",
	"/locations/2178/latest": `[{"datetime":{"utc":"2024-03-01T11:00:00Z"},"value":14.2,"sensorsId":3917,"locationsId":2178}]`,
	"/locations/9000/latest": `[{"datetime":{"utc":"2024-03-01T11:00:00Z"},"value":160,"sensorsId":5001,"locationsId":9000}]`,
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.hits[r.URL.Path]++
	status := u.status
	u.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	body, ok := upstreamRoutes[r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	fmt.Fprintf(w, `{"meta":{"found":2},"results":%s}`, body)
}

func (u *upstream) count(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[path]
}

// newStack wires the real client, service and LRU cache behind the router.
func newStack(t *testing.T) (http.Handler, *upstream) {
	t.Helper()
	up := &upstream{hits: map[string]int{}}
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	limiter := ratelimit.New(ratelimit.NewMemoryStore(60, 2000), ratelimit.PolicyFail, 0)
	tracker := traffic.NewTracker(0)
	c, err := client.New(client.Config{APIKey: "test-key", BaseURL: srv.URL, RetryAttempts: 1}, limiter,
		client.WithOutcomeRecorder(tracker))
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	lru, err := cache.NewLRUCache(64)
	if err != nil {
		t.Fatal(err)
	}
	svc := service.NewAirQualityService(c, lru, service.Config{}, zap.NewNop())
	h := NewHandler(svc, c, limiter, tracker, &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50}, QueryConfig{}, zap.NewNop())
	return NewRouter(h, RouterConfig{RequestTimeout: 5 * time.Second}, zap.NewNop()), up
}

func get(router http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestStack_LocationsCachedAndRefreshed(t *testing.T) {
	router, up := newStack(t)

	for i := 0; i < 3; i++ {
		w := get(router, "/api/v1/locations?country=US")
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, body %s", i, w.Code, w.Body.String())
		}
		if body := decodeBody(t, w); body["count"].(float64) != 2 {
			t.Fatalf("count = %v, want 2", body["count"])
		}
	}
	if n := up.count("/locations"); n != 1 {
		t.Errorf("upstream /locations hits = %d, want 1 (cache)", n)
	}

	if w := get(router, "/api/v1/locations?country=US&refresh=true"); w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", w.Code)
	}
	if n := up.count("/locations"); n != 2 {
		t.Errorf("upstream /locations hits after refresh = %d, want 2", n)
	}

	w := get(router, "/api/v1/locations?country=US&city=fresno")
	body := decodeBody(t, w)
	if body["count"].(float64) != 1 || up.count("/locations") != 2 {
		t.Errorf("city filter count = %v, upstream hits = %d", body["count"], up.count("/locations"))
	}
}

func TestStack_Map(t *testing.T) {
	router, _ := newStack(t)
	w := get(router, "/api/v1/map?country=US&parameter=PM2.5")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	markers := decodeBody(t, w)["markers"].([]interface{})
	if len(markers) != 2 {
		t.Fatalf("markers = %d, want 2", len(markers))
	}
	want := map[float64]string{2178: "Moderate", 9000: "Very Unhealthy"}
	for _, m := range markers {
		mk := m.(map[string]interface{})
		id := mk["locationId"].(float64)
		if mk["category"] != want[id] {
			t.Errorf("marker %v category = %v, want %s", id, mk["category"], want[id])
		}
	}
}

func TestStack_UpstreamAuthFailureDegradesHealth(t *testing.T) {
	defer lifecycle.Reset()
	lifecycle.Reset()
	lifecycle.MarkReady()

	router, up := newStack(t)
	if w := get(router, "/health"); w.Code != http.StatusOK {
		t.Fatalf("initial health = %d, want 200", w.Code)
	}

	up.mu.Lock()
	up.status = http.StatusUnauthorized
	up.mu.Unlock()

	w := get(router, "/api/v1/countries")
	if w.Code != http.StatusBadGateway || errorCode(t, w) != "AUTH_ERROR" {
		t.Fatalf("countries with bad key = %d", w.Code)
	}

	w = get(router, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("health after auth failure = %d, want 503", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
	if q := body["quota"].(map[string]interface{}); q["minuteCount"].(float64) != 1 {
		t.Errorf("quota = %v, want one request counted", q)
	}
	if u := body["upstream"].(map[string]interface{}); u["failure"].(float64) != 1 {
		t.Errorf("upstream counts = %v", u)
	}
}
