package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog/log"

	"userscale-bench/internal/bench/models"
)

// CPUSource utilização de CPU reportada pela plataforma, via Prometheus.
// É o sinal que alimenta o controller baseline.
type CPUSource struct {
	api       promv1.API
	namespace string
	service   string
	connected bool
}

// NewCPUSource cria fonte de CPU sobre um endpoint Prometheus.
// Lazy connection: a primeira query válida marca a fonte como conectada.
func NewCPUSource(endpoint, namespace, service string) (*CPUSource, error) {
	apiClient, err := api.NewClient(api.Config{Address: endpoint})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	log.Debug().
		Str("endpoint", endpoint).
		Str("namespace", namespace).
		Msg("Prometheus CPU source created (lazy connection)")

	return &CPUSource{
		api:       promv1.NewAPI(apiClient),
		namespace: namespace,
		service:   service,
	}, nil
}

func (c *CPUSource) Name() string { return "cpu" }

func (c *CPUSource) Fields() []models.Field {
	return []models.Field{models.FieldCPUUtil}
}

// Collect consulta a média de CPU% dos pods do serviço
func (c *CPUSource) Collect(ctx context.Context) (Reading, error) {
	// rate de uso de CPU sobre o request, em %, média entre pods
	query := fmt.Sprintf(
		`100 * avg(rate(container_cpu_usage_seconds_total{namespace=%q, pod=~"%s-.*"}[1m]) / on(pod) group_left kube_pod_container_resource_requests{namespace=%q, resource="cpu"})`,
		c.namespace, c.service, c.namespace,
	)

	result, warnings, err := c.api.Query(ctx, query, time.Now())
	if err != nil {
		c.connected = false
		return Reading{}, fmt.Errorf("%w: prometheus query: %v", ErrSourceUnavailable, err)
	}
	c.connected = true

	if len(warnings) > 0 {
		log.Warn().Strs("warnings", warnings).Msg("Prometheus query returned warnings")
	}

	vec, ok := result.(model.Vector)
	if !ok || len(vec) == 0 {
		return Reading{}, fmt.Errorf("%w: empty CPU query result", ErrSourceUnavailable)
	}

	return Reading{Fields: map[models.Field]float64{
		models.FieldCPUUtil: float64(vec[0].Value),
	}}, nil
}

// IsConnected retorna se a última query teve sucesso
func (c *CPUSource) IsConnected() bool {
	return c.connected
}
