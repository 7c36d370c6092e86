package loadgen

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"userscale-bench/internal/bench/models"
	"userscale-bench/internal/config"
)

// Generator gerador de carga sintética: um pool de workers batendo no
// /compute do serviço alvo em taxa controlada. As duas campanhas recebem
// carga idêntica — mesmos workers, mesmo pacing, mesmo size.
type Generator struct {
	config     *config.LoadConfig
	serviceURL string
	client     *http.Client

	sent   atomic.Int64
	failed atomic.Int64

	latMu    sync.Mutex
	latSum   float64
	latCount int64

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New cria gerador para uma URL base do serviço
func New(serviceURL string, cfg *config.LoadConfig) *Generator {
	if cfg == nil {
		c := config.DefaultConfig().Load
		cfg = &c
	}
	return &Generator{
		config:     cfg,
		serviceURL: serviceURL,
		client:     &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Start dispara os workers. Idempotente: chamadas repetidas são ignoradas
// enquanto o gerador está rodando.
func (g *Generator) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return
	}
	g.running = true

	workerCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	g.sent.Store(0)
	g.failed.Store(0)
	g.latMu.Lock()
	g.latSum = 0
	g.latCount = 0
	g.latMu.Unlock()

	for i := 0; i < g.config.Workers; i++ {
		g.wg.Add(1)
		go g.worker(workerCtx)
	}

	log.Info().
		Int("workers", g.config.Workers).
		Str("target", g.serviceURL).
		Int("compute_size", g.config.ComputeSize).
		Msg("Load generator started")
}

// Stop encerra os workers e espera todos terminarem
func (g *Generator) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return
	}
	g.cancel()
	g.wg.Wait()
	g.running = false

	log.Info().
		Int64("sent", g.sent.Load()).
		Int64("failed", g.failed.Load()).
		Msg("Load generator stopped")
}

// Summary retorna os contadores acumulados da rodada corrente
func (g *Generator) Summary() models.LoadSummary {
	g.latMu.Lock()
	avg := 0.0
	if g.latCount > 0 {
		avg = g.latSum / float64(g.latCount)
	}
	g.latMu.Unlock()

	return models.LoadSummary{
		RequestsSent:   g.sent.Load(),
		RequestsFailed: g.failed.Load(),
		AvgLatencyMS:   avg,
	}
}

func (g *Generator) worker(ctx context.Context) {
	defer g.wg.Done()

	url := fmt.Sprintf("%s/compute?size=%d", g.serviceURL, g.config.ComputeSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		err := g.request(ctx, url)
		elapsedMS := float64(time.Since(start).Milliseconds())

		if err != nil {
			g.failed.Add(1)
		} else {
			g.sent.Add(1)
			g.latMu.Lock()
			g.latSum += elapsedMS
			g.latCount++
			g.latMu.Unlock()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(g.config.PacingInterval):
		}
	}
}

func (g *Generator) request(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
