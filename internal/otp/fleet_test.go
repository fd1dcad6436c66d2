package otp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewFleetCleansURLs(t *testing.T) {
	f, err := NewFleet([]string{" http://otp1:8080/ ", "", "http://otp2:8080"}, time.Second)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if f.Size() != 2 {
		t.Fatalf("size: got %d want 2", f.Size())
	}
	if got := f.Worker(0); got != "http://otp1:8080" {
		t.Fatalf("worker 0: got %q", got)
	}
}

func TestNewFleetEmpty(t *testing.T) {
	if _, err := NewFleet([]string{" ", ""}, time.Second); err == nil {
		t.Fatal("expected error for empty fleet")
	}
}

func TestWorkerWrapsModulo(t *testing.T) {
	urls := []string{"http://a", "http://b", "http://c"}
	f, err := NewFleet(urls, time.Second)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for i := 0; i < 12; i++ {
		if got, want := f.Worker(i), urls[i%3]; got != want {
			t.Fatalf("worker %d: got %q want %q", i, got, want)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	var status int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer ts.Close()

	f, err := NewFleet([]string{ts.URL}, time.Second)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	// a responding worker is healthy even on 404: the process is up and
	// the graph is loaded enough to route requests
	for _, s := range []int{200, 404} {
		status = s
		if !f.HealthCheck(context.Background()) {
			t.Fatalf("status %d should be healthy", s)
		}
	}
	status = 503
	if f.HealthCheck(context.Background()) {
		t.Fatal("status 503 should be unhealthy")
	}
}

func TestHealthCheckConnectionRefused(t *testing.T) {
	f, err := NewFleet([]string{"http://127.0.0.1:1"}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if f.HealthCheck(context.Background()) {
		t.Fatal("unreachable worker should be unhealthy")
	}
}
