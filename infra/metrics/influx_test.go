package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	coremetrics "github.com/fieldops/rove/core/metrics"
	"github.com/fieldops/rove/core/model"
)

func TestInfluxSink_RecordVisitResult(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewInfluxSink(coremetrics.Config{
		InfluxURL:    srv.URL + "/api/v2/write",
		InfluxToken:  "tok",
		InfluxOrg:    "org",
		InfluxBucket: "bucket",
	})
	defer sink.Close()

	rec := coremetrics.VisitResult{
		WorkerID: 5,
		Point:    model.Point{Lat: 40.51, Lon: -74.04},
		SpawnID:  "s1",
		Known:    true,
		Found:    true,
		Seen:     2,
		Latency:  200 * time.Millisecond,
		Time:     time.Now(),
	}
	if err := sink.RecordVisitResult([]coremetrics.VisitResult{rec}); err != nil {
		t.Fatalf("record error: %v", err)
	}
	for _, want := range []string{"visit_event", `worker_id=5`, `spawn_id=s1`, `found=true`, "seen=2i"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q: %s", want, body)
		}
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(coremetrics.Config{
		InfluxURL:    srv.URL + "/api/v2/write",
		InfluxToken:  "tok",
		InfluxOrg:    "org",
		InfluxBucket: "bucket",
	})
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
