package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"userscale-bench/internal/bench/models"
)

// EndpointLister fornece as URLs /metrics dos pods do serviço alvo
type EndpointLister interface {
	MetricsEndpoints(ctx context.Context) ([]string, error)
}

// StaticEndpoints EndpointLister fixo (modo local/simulado)
type StaticEndpoints []string

func (s StaticEndpoints) MetricsEndpoints(ctx context.Context) ([]string, error) {
	return s, nil
}

// appMetrics corpo JSON do GET /metrics do serviço alvo.
// Ausência de campo ou resposta não-2xx vira "missing" no tick.
type appMetrics struct {
	GPUUtilPercent     *float64 `json:"gpu_util_percent"`
	GPUMemMB           *float64 `json:"gpu_mem_mb"`
	CPUUtilPercent     *float64 `json:"cpu_util_percent"`
	LatencyMS          *float64 `json:"latency_ms"`
	ConcurrentRequests *float64 `json:"concurrent_requests"`
}

// AppSource métricas reportadas pela aplicação (latência, concorrência e,
// quando o app as expõe, GPU). Faz fan-out para todos os pods e agrega:
// média para gpu/latência, soma para requests concorrentes.
type AppSource struct {
	endpoints EndpointLister
	client    *http.Client
}

// NewAppSource cria fonte de métricas da aplicação
func NewAppSource(endpoints EndpointLister, requestTimeout time.Duration) *AppSource {
	if requestTimeout <= 0 {
		requestTimeout = 2 * time.Second
	}
	return &AppSource{
		endpoints: endpoints,
		client:    &http.Client{Timeout: requestTimeout},
	}
}

func (a *AppSource) Name() string { return "app" }

func (a *AppSource) Fields() []models.Field {
	return []models.Field{models.FieldLatency, models.FieldConcurrency, models.FieldGPUUtil, models.FieldGPUMem}
}

func (a *AppSource) Collect(ctx context.Context) (Reading, error) {
	urls, err := a.endpoints.MetricsEndpoints(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: listing endpoints: %v", ErrSourceUnavailable, err)
	}
	if len(urls) == 0 {
		return Reading{}, fmt.Errorf("%w: no pod endpoints", ErrSourceUnavailable)
	}

	var (
		gpuVals, memVals, latVals []float64
		concurrentTotal           float64
		haveConcurrent            bool
		reached                   int
	)

	for _, url := range urls {
		m, err := a.fetch(ctx, url)
		if err != nil {
			// Pod individual fora do ar não derruba o tick inteiro
			log.Debug().Err(err).Str("url", url).Msg("Pod metrics fetch failed")
			continue
		}
		reached++

		if m.GPUUtilPercent != nil {
			gpuVals = append(gpuVals, *m.GPUUtilPercent)
		}
		if m.GPUMemMB != nil {
			memVals = append(memVals, *m.GPUMemMB)
		}
		if m.LatencyMS != nil {
			latVals = append(latVals, *m.LatencyMS)
		}
		if m.ConcurrentRequests != nil {
			concurrentTotal += *m.ConcurrentRequests
			haveConcurrent = true
		}
	}

	if reached == 0 {
		return Reading{}, fmt.Errorf("%w: all %d pod endpoints unreachable", ErrSourceUnavailable, len(urls))
	}

	fields := map[models.Field]float64{}
	if len(gpuVals) > 0 {
		fields[models.FieldGPUUtil] = mean(gpuVals)
	}
	if len(memVals) > 0 {
		fields[models.FieldGPUMem] = mean(memVals)
	}
	if len(latVals) > 0 {
		fields[models.FieldLatency] = mean(latVals)
	}
	if haveConcurrent {
		fields[models.FieldConcurrency] = concurrentTotal
	}

	return Reading{Fields: fields}, nil
}

func (a *AppSource) fetch(ctx context.Context, url string) (*appMetrics, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var m appMetrics
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding metrics body: %w", err)
	}
	return &m, nil
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
