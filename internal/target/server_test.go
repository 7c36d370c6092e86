package target

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	s := NewServer(0, false)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMetricsShape(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode metrics: %v", err)
	}

	// Todos os campos do formato de coleta presentes
	for _, field := range []string{
		"gpu_util_percent", "gpu_mem_mb", "gpu_temperature",
		"cpu_util_percent", "latency_ms", "concurrent_requests",
	} {
		if _, ok := body[field]; !ok {
			t.Errorf("expected field %s in metrics body", field)
		}
	}

	// Sem carga: GPU ociosa, nada em voo
	if body["concurrent_requests"] != 0 {
		t.Errorf("expected 0 inflight requests, got %f", body["concurrent_requests"])
	}
	if body["gpu_util_percent"] != 0 {
		t.Errorf("expected idle GPU, got %f", body["gpu_util_percent"])
	}
}

func TestComputeRespondsWithLatency(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/compute?size=200")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode compute response: %v", err)
	}
	if body["size"] != 200 {
		t.Errorf("expected size 200 echoed back, got %f", body["size"])
	}
	if body["latency_ms"] < 0 {
		t.Errorf("expected non-negative latency, got %f", body["latency_ms"])
	}
}

func TestComputeRejectsInvalidSize(t *testing.T) {
	srv := testServer(t)

	for _, q := range []string{"size=0", "size=-5", "size=abc"} {
		resp, err := http.Get(srv.URL + "/compute?" + q)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestComputeFeedsLatencyIntoMetrics(t *testing.T) {
	srv := testServer(t)

	if _, err := http.Get(srv.URL + "/compute?size=100"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode metrics: %v", err)
	}

	// A latência da requisição anterior entra na janela do /metrics
	if body["latency_ms"] < 0 {
		t.Errorf("expected recorded latency, got %f", body["latency_ms"])
	}
}
