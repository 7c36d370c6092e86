package collector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"userscale-bench/internal/bench/models"
	"userscale-bench/internal/bench/telemetry"
)

// Config configuração do collector
type Config struct {
	SourceTimeout time.Duration // timeout por fonte (default: 2s)
}

// DefaultConfig retorna configuração padrão
func DefaultConfig() *Config {
	return &Config{
		SourceTimeout: 2 * time.Second,
	}
}

// Collector agrega um MetricSample por tick a partir de todas as fontes
// registradas, tolerando falha parcial. Um tick com todas as fontes fora
// do ar ainda produz sample (com tudo missing) — a timeline não tem buracos.
type Collector struct {
	sources []telemetry.MetricSource
	config  *Config
}

// New cria collector sobre um conjunto ordenado de fontes. A ordem de
// registro decide a precedência quando duas fontes cobrem o mesmo campo.
func New(sources []telemetry.MetricSource, config *Config) *Collector {
	if config == nil {
		config = DefaultConfig()
	}
	return &Collector{
		sources: sources,
		config:  config,
	}
}

// Collect consulta todas as fontes concorrentemente, cada uma sob seu
// próprio timeout, e monta o sample do tick. Nunca retorna nil.
func (c *Collector) Collect(ctx context.Context) *models.MetricSample {
	sample := &models.MetricSample{Timestamp: time.Now()}

	readings := make([]telemetry.Reading, len(c.sources))
	errs := make([]error, len(c.sources))

	var wg sync.WaitGroup
	for i, src := range c.sources {
		wg.Add(1)
		go func(i int, src telemetry.MetricSource) {
			defer wg.Done()

			srcCtx, cancel := context.WithTimeout(ctx, c.config.SourceTimeout)
			defer cancel()

			readings[i], errs[i] = src.Collect(srcCtx)
		}(i, src)
	}
	wg.Wait()

	// Merge na ordem de registro: a primeira fonte que reporta um campo vence
	present := map[models.Field]bool{}
	for i, src := range c.sources {
		if errs[i] != nil {
			log.Debug().
				Err(errs[i]).
				Str("source", src.Name()).
				Msg("Metric source failed, fields will be marked missing")
			continue
		}
		for field, value := range readings[i].Fields {
			if present[field] {
				continue
			}
			sample.SetValue(field, value)
			present[field] = true
		}
	}

	var missing []models.Field
	for _, field := range models.AllFields {
		if !present[field] {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sample.MarkMissing(missing...)
	}

	log.Debug().
		Int("sources", len(c.sources)).
		Int("missing_fields", len(missing)).
		Msg("Metric sample collected")

	return sample
}

// Stream produz a sequência de samples de uma campanha: um por tick até o
// contexto encerrar. O channel é fechado no fim — a sequência pertence a uma
// campanha e não é reusada.
func (c *Collector) Stream(ctx context.Context, interval time.Duration) <-chan *models.MetricSample {
	out := make(chan *models.MetricSample, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sample := c.Collect(ctx)
				select {
				case out <- sample:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
