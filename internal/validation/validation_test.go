package validation

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
)

func TestCountryCode(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"us", "US", false},
		{"  GB ", "GB", false},
		{"", "", true},
		{"USA", "", true},
		{"U1", "", true},
		{"ü.", "", true},
	}
	for _, tc := range tests {
		got, err := CountryCode(tc.input)
		if tc.wantErr {
			if !errors.Is(err, ErrCountryInvalid) || !errors.Is(err, aqerr.ErrInvalidInput) {
				t.Errorf("CountryCode(%q) error = %v, want ErrCountryInvalid", tc.input, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("CountryCode(%q) = %q, %v, want %q", tc.input, got, err, tc.want)
		}
	}
}

func TestCity(t *testing.T) {
	valid := map[string]string{
		"":                "",
		"  Los Angeles  ": "Los Angeles",
		"Zürich":          "Zürich",
		"St. John's":      "St. John's",
		"Winston-Salem":   "Winston-Salem",
	}
	for in, want := range valid {
		got, err := City(in)
		if err != nil || got != want {
			t.Errorf("City(%q) = %q, %v, want %q", in, got, err, want)
		}
	}
	for _, in := range []string{"sea/ttle", "a&b", "x\x00", strings.Repeat("a", MaxCityLen+1)} {
		if _, err := City(in); !errors.Is(err, ErrCityInvalid) {
			t.Errorf("City(%q) error = %v, want ErrCityInvalid", in, err)
		}
	}
}

func TestParameter(t *testing.T) {
	got, err := Parameter("PM2.5")
	if err != nil || got != models.ParameterPM25 {
		t.Errorf("Parameter(PM2.5) = %q, %v", got, err)
	}
	if _, err := Parameter("humidity"); !errors.Is(err, ErrParameterInvalid) {
		t.Errorf("Parameter(humidity) error = %v, want ErrParameterInvalid", err)
	}
}

func TestID(t *testing.T) {
	if got, err := ID(" 42 "); err != nil || got != 42 {
		t.Errorf("ID(42) = %d, %v", got, err)
	}
	for _, in := range []string{"", "0", "-3", "abc", "1.5"} {
		if _, err := ID(in); !errors.Is(err, ErrIDInvalid) {
			t.Errorf("ID(%q) error = %v, want ErrIDInvalid", in, err)
		}
	}
}

func TestIDList(t *testing.T) {
	got, err := IDList("3, 1,,2", 10)
	if err != nil || !reflect.DeepEqual(got, []int{3, 1, 2}) {
		t.Errorf("IDList() = %v, %v", got, err)
	}
	tests := []string{"", " , ", "1,x", "1,2,3"}
	for _, in := range tests {
		if _, err := IDList(in, 2); !errors.Is(err, ErrIDInvalid) {
			t.Errorf("IDList(%q) error = %v, want ErrIDInvalid", in, err)
		}
	}
}

func TestTimeRange(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	from, to, err := TimeRange("", "", now, 24*time.Hour, 0)
	if err != nil || !to.Equal(now) || !from.Equal(now.Add(-24*time.Hour)) {
		t.Errorf("defaults = %v..%v, %v", from, to, err)
	}

	from, to, err = TimeRange("2024-03-01", "2024-03-02T06:00:00+02:00", now, time.Hour, 0)
	if err != nil {
		t.Fatalf("TimeRange() error = %v", err)
	}
	if !from.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2024, 3, 2, 4, 0, 0, 0, time.UTC)) {
		t.Errorf("TimeRange() = %v..%v", from, to)
	}

	errTests := []struct {
		name       string
		start, end string
		max        time.Duration
		want       error
	}{
		{"bad start", "yesterday", "", 0, ErrTimeInvalid},
		{"bad end", "", "03/01/2024", 0, ErrTimeInvalid},
		{"reversed", "2024-03-05", "2024-03-01", 0, ErrRangeInvalid},
		{"equal", "2024-03-05", "2024-03-05", 0, ErrRangeInvalid},
		{"too wide", "2023-01-01", "2024-03-01", 90 * 24 * time.Hour, ErrRangeInvalid},
	}
	for _, tc := range errTests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := TimeRange(tc.start, tc.end, now, time.Hour, tc.max)
			if !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPeriod(t *testing.T) {
	for in, want := range map[string]string{"hour": "hour", "Hours": "hour", "daily": "day", " day ": "day"} {
		if got, err := Period(in); err != nil || got != want {
			t.Errorf("Period(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := Period("week"); !errors.Is(err, ErrPeriodInvalid) {
		t.Errorf("Period(week) error = %v", err)
	}
}

func TestBBox(t *testing.T) {
	got, err := BBox("-74.3, 40.5,-73.7,40.9")
	if err != nil || got != [4]float64{-74.3, 40.5, -73.7, 40.9} {
		t.Errorf("BBox() = %v, %v", got, err)
	}
	for _, in := range []string{"", "1,2,3", "a,b,c,d", "10,0,5,1", "-200,0,0,1", "0,10,1,5"} {
		if _, err := BBox(in); !errors.Is(err, ErrBBoxInvalid) {
			t.Errorf("BBox(%q) error = %v, want ErrBBoxInvalid", in, err)
		}
	}
}
