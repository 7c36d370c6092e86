package telemetry

import (
	"context"
	"errors"

	"userscale-bench/internal/bench/models"
)

// ErrSourceUnavailable fonte de telemetria fora do ar ou sem resposta.
// Recuperado localmente pelo collector: os campos viram "missing" no tick.
var ErrSourceUnavailable = errors.New("metric source unavailable")

// ErrGPUUnavailable nenhum device GPU presente. Resultado tipado — a fonte
// nunca entra em pânico quando não há hardware.
var ErrGPUUnavailable = errors.New("gpu device unavailable")

// Reading valores reportados por uma fonte em um tick
type Reading struct {
	Fields map[models.Field]float64
}

// MetricSource uma classe de telemetria lida de um sistema externo.
// Implementações: device GPU, CPU da plataforma, métricas da aplicação,
// e a variante simulada — selecionadas na configuração, nunca pelo engine.
type MetricSource interface {
	// Name identifica a fonte nos logs
	Name() string

	// Fields campos que esta fonte cobre quando saudável
	Fields() []models.Field

	// Collect lê a telemetria. Deve respeitar o deadline do contexto e
	// retornar erro (não zero) quando a leitura falha.
	Collect(ctx context.Context) (Reading, error)
}
