package telemetry

import (
	"context"
	"math"
	"sync"
	"time"

	"userscale-bench/internal/bench/models"
)

// SimSource variante simulada/no-op da telemetria: gera um perfil de carga
// sintético sem hardware nem cluster. Selecionada por configuração; o engine
// nunca sabe se a fonte é real ou simulada.
type SimSource struct {
	mu    sync.Mutex
	start time.Time

	// valores fixados via Set, têm precedência sobre o perfil
	pinned map[models.Field]float64
}

// NewSimSource cria fonte simulada com perfil de rampa + ruído senoidal
func NewSimSource() *SimSource {
	return &SimSource{
		start:  time.Now(),
		pinned: map[models.Field]float64{},
	}
}

func (s *SimSource) Name() string { return "sim" }

func (s *SimSource) Fields() []models.Field {
	return models.AllFields
}

// Set fixa o valor de um campo (usado em testes e no modo demo)
func (s *SimSource) Set(field models.Field, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned[field] = value
}

// Collect gera o sample simulado do momento
func (s *SimSource) Collect(ctx context.Context) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := time.Since(s.start).Seconds()

	// Rampa de 2 minutos até ~85% com oscilação de ±10%
	ramp := math.Min(elapsed/120.0, 1.0)
	wave := 10 * math.Sin(elapsed/15.0)
	gpuUtil := clampF(85*ramp+wave, 0, 100)

	fields := map[models.Field]float64{
		models.FieldGPUUtil:     gpuUtil,
		models.FieldGPUMem:      1024 + 2048*ramp,
		models.FieldGPUTemp:     45 + 25*ramp,
		models.FieldCPUUtil:     clampF(60*ramp+wave/2, 0, 100),
		models.FieldLatency:     50 + 400*ramp*ramp,
		models.FieldConcurrency: math.Floor(20 * ramp),
	}

	for f, v := range s.pinned {
		fields[f] = v
	}

	return Reading{Fields: fields}, nil
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
