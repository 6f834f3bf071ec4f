package httpstatus

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

type fakeReporter struct {
	leader bool
	count  int
}

func (f *fakeReporter) IsLeader() bool      { return f.leader }
func (f *fakeReporter) OperationCount() int { return f.count }

func TestStatusEndpointReportsReporterState(t *testing.T) {
	reporter := &fakeReporter{leader: true, count: 3}
	srv := NewServer("127.0.0.1:18181", reporter)

	go srv.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	var resp *http.Response
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://127.0.0.1:18181/status")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("expected status endpoint to come up, got %v", err)
	}
	defer resp.Body.Close()

	var body statusBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode status body: %v", err)
	}
	if !body.Leader || body.Operations != 3 {
		t.Fatalf("unexpected status body: %+v", body)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	reporter := &fakeReporter{}
	srv := NewServer("127.0.0.1:18182", reporter)
	go srv.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	var resp *http.Response
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://127.0.0.1:18182/metrics")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("expected metrics endpoint to come up, got %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
