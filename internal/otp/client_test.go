package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/transitatlas/isochrone-cache/internal/model"
)

var testDates = map[model.DayType]string{
	model.DayWeekday:  "2025-01-15",
	model.DaySaturday: "2025-01-18",
	model.DaySunday:   "2025-01-19",
}

func testClient(ts *httptest.Server, cutoffs []int) *Client {
	return NewClient(Config{
		HTTP:     ts.Client(),
		Cutoffs:  cutoffs,
		Dates:    testDates,
		TZOffset: "-05:00",
	})
}

func testKey() model.CacheKey {
	return model.CacheKey{Mode: model.ModeTransit, Departure: "10:00:00", DayType: model.DayWeekday}
}

// featureJSON renders one feature whose polygon size tracks the cutoff, so
// every cutoff produces a distinct geometry.
func featureJSON(cutoffMin int) string {
	return fmt.Sprintf(
		`{"type":"Feature","properties":{"time":"%d"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[%d,0],[%d,%d],[0,%d],[0,0]]]}}`,
		cutoffMin*60, cutoffMin, cutoffMin, cutoffMin, cutoffMin)
}

func collectionFor(cutoffs []string, distinct bool) string {
	features := make([]string, 0, len(cutoffs))
	for _, c := range cutoffs {
		min := strings.TrimSuffix(strings.TrimPrefix(c, "PT"), "M")
		var n int
		fmt.Sscanf(min, "%d", &n)
		if distinct {
			features = append(features, featureJSON(n))
		} else {
			// same shape for every cutoff, only the time differs
			features = append(features, fmt.Sprintf(
				`{"type":"Feature","properties":{"time":"%d"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}`,
				n*60))
		}
	}
	return `{"type":"FeatureCollection","features":[` + strings.Join(features, ",") + `]}`
}

func TestComputeIsochronesMultiCutoff(t *testing.T) {
	var gotURL string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		fmt.Fprint(w, collectionFor(r.URL.Query()["cutoff"], true))
	}))
	defer ts.Close()

	c := testClient(ts, []int{15, 30, 45})
	bands, err := c.ComputeIsochrones(context.Background(), Request{
		Lat: 40.7128, Lng: -74.006, Key: testKey(), WorkerURL: ts.URL,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(bands) != 3 {
		t.Fatalf("bands: got %d want 3", len(bands))
	}
	for _, cutoff := range []int{15, 30, 45} {
		if _, ok := bands[cutoff]; !ok {
			t.Fatalf("missing band %d in %v", cutoff, bands)
		}
	}

	for _, frag := range []string{
		"batch=true",
		"cutoff=PT15M", "cutoff=PT30M", "cutoff=PT45M",
		"time=2025-01-15T10%3A00%3A00-05%3A00",
		"modes=TRANSIT%2CWALK",
	} {
		if !strings.Contains(gotURL, frag) {
			t.Fatalf("url %q missing %q", gotURL, frag)
		}
	}
	if !strings.HasPrefix(gotURL, "/otp/traveltime/isochrone?") {
		t.Fatalf("unexpected path: %q", gotURL)
	}
	// repeated cutoff params must keep ascending order in the encoded query
	if !strings.Contains(gotURL, "cutoff=PT15M&cutoff=PT30M&cutoff=PT45M") {
		t.Fatalf("cutoff order lost in %q", gotURL)
	}
}

func TestComputeIsochronesFallbackOnCollapsedResponse(t *testing.T) {
	var multiCalls, singleCalls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cutoffs := r.URL.Query()["cutoff"]
		if len(cutoffs) > 1 {
			multiCalls.Add(1)
			fmt.Fprint(w, collectionFor(cutoffs, false)) // all shapes identical
			return
		}
		singleCalls.Add(1)
		fmt.Fprint(w, collectionFor(cutoffs, true))
	}))
	defer ts.Close()

	cutoffs := []int{15, 30, 45, 60}
	c := testClient(ts, cutoffs)
	bands, err := c.ComputeIsochrones(context.Background(), Request{
		Lat: 40.7, Lng: -74.0, Key: testKey(), WorkerURL: ts.URL,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if multiCalls.Load() != 1 {
		t.Fatalf("multi calls: got %d want 1", multiCalls.Load())
	}
	if singleCalls.Load() != int64(len(cutoffs)) {
		t.Fatalf("single calls: got %d want %d", singleCalls.Load(), len(cutoffs))
	}
	if len(bands) != len(cutoffs) {
		t.Fatalf("bands: got %d want %d", len(bands), len(cutoffs))
	}
}

func TestFallbackToleratesPartialFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cutoffs := r.URL.Query()["cutoff"]
		if len(cutoffs) > 1 {
			fmt.Fprint(w, collectionFor(cutoffs, false))
			return
		}
		if cutoffs[0] == "PT30M" {
			http.Error(w, "router blew up", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, collectionFor(cutoffs, true))
	}))
	defer ts.Close()

	c := testClient(ts, []int{15, 30, 45})
	bands, err := c.ComputeIsochrones(context.Background(), Request{
		Lat: 40.7, Lng: -74.0, Key: testKey(), WorkerURL: ts.URL,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(bands) != 2 {
		t.Fatalf("bands: got %d want 2 (failed cutoff dropped)", len(bands))
	}
	if _, ok := bands[30]; ok {
		t.Fatal("failed cutoff must not appear in the merged result")
	}
}

func TestFallbackAllFailed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Query()["cutoff"]) > 1 {
			fmt.Fprint(w, collectionFor(r.URL.Query()["cutoff"], false))
			return
		}
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := testClient(ts, []int{15, 30})
	_, err := c.ComputeIsochrones(context.Background(), Request{
		Lat: 40.7, Lng: -74.0, Key: testKey(), WorkerURL: ts.URL,
	})
	if err == nil || !strings.Contains(err.Error(), "all 2 per-cutoff requests failed") {
		t.Fatalf("expected all-failed error with the failure count, got %v", err)
	}
}

func TestComputeIsochronesWorkerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "graph not loaded", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := testClient(ts, []int{180})
	_, err := c.ComputeIsochrones(context.Background(), Request{
		Lat: 40.7, Lng: -74.0, Key: testKey(), WorkerURL: ts.URL,
	})
	if err == nil || !strings.Contains(err.Error(), "status=503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestBuildURLModeParams(t *testing.T) {
	c := NewClient(Config{Dates: testDates, TZOffset: "-05:00"})

	cases := []struct {
		mode model.Mode
		want []string
	}{
		{model.ModeTransit, []string{"modes=TRANSIT%2CWALK"}},
		{model.ModeTransitBike, []string{"accessModes=BIKE", "egressModes=BIKE", "modes=TRANSIT"}},
		{model.ModeBike, []string{"modes=BIKE"}},
		{model.ModeWalk, []string{"modes=WALK"}},
	}
	for _, tc := range cases {
		u, err := c.buildURL(Request{
			Lat: 40.7, Lng: -74.0, WorkerURL: "http://otp:8080",
			Key: model.CacheKey{Mode: tc.mode, Departure: "08:30:00", DayType: model.DaySunday},
		}, []int{60})
		if err != nil {
			t.Fatalf("mode %s: unexpected err: %v", tc.mode, err)
		}
		for _, frag := range tc.want {
			if !strings.Contains(u, frag) {
				t.Fatalf("mode %s: url %q missing %q", tc.mode, u, frag)
			}
		}
		if !strings.Contains(u, "time=2025-01-19T08%3A30%3A00-05%3A00") {
			t.Fatalf("mode %s: url %q has wrong time", tc.mode, u)
		}
	}
}

func TestBuildURLUnknownDayType(t *testing.T) {
	c := NewClient(Config{Dates: map[model.DayType]string{}, TZOffset: "-05:00"})
	_, err := c.buildURL(Request{Key: testKey(), WorkerURL: "http://otp:8080"}, []int{60})
	if err == nil {
		t.Fatal("expected error for unmapped day type")
	}
}

func TestParseFeatureCollection(t *testing.T) {
	body := collectionFor([]string{"PT15M", "PT30M"}, true)
	bands, err := parseFeatureCollection([]byte(body))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(bands) != 2 {
		t.Fatalf("got %d bands", len(bands))
	}
	var g struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(bands[15], &g); err != nil || g.Type != "Polygon" {
		t.Fatalf("band 15 geometry: %s err=%v", bands[15], err)
	}

	if _, err := parseFeatureCollection([]byte(`{"type":"FeatureCollection","features":[]}`)); err == nil {
		t.Fatal("expected error for empty feature collection")
	}
	if _, err := parseFeatureCollection([]byte(`{"features":[{"properties":{"time":"abc"}}]}`)); err == nil {
		t.Fatal("expected error for malformed time property")
	}
}

func TestWaitReadyGivesUp(t *testing.T) {
	f, err := NewFleet([]string{"http://127.0.0.1:1"}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	err = f.WaitReady(context.Background(), 2, 10*time.Millisecond, nil)
	if err == nil || !strings.Contains(err.Error(), "not healthy after 2 attempts") {
		t.Fatalf("expected give-up error, got %v", err)
	}
}
