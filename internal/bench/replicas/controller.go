package replicas

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"userscale-bench/internal/bench/cluster"
	"userscale-bench/internal/bench/models"
	"userscale-bench/internal/config"
)

// ErrApplyFatal orçamento de retries esgotado. Sobe para o orchestrator,
// que aborta a campanha corrente — nunca o experimento inteiro.
var ErrApplyFatal = errors.New("replica apply failed permanently")

// Controller aplica ScalingDecisions na plataforma e reconcilia a contagem
// observada de réplicas. Dono exclusivo do ReplicaState; o engine só lê
// snapshots.
type Controller struct {
	cluster cluster.Interface
	config  *config.ReplicaConfig

	// applyMu exclusão mútua por deployment: um segundo apply para o mesmo
	// deployment espera o que está em voo, evitando inversão de ordem
	applyMu   map[string]*sync.Mutex
	applyMuMu sync.Mutex

	stateMu sync.RWMutex
	state   models.ReplicaState
}

// New cria controller para um deployment alvo
func New(cl cluster.Interface, deploymentID string, cfg *config.ReplicaConfig) *Controller {
	if cfg == nil {
		c := config.DefaultConfig().Replicas
		cfg = &c
	}
	return &Controller{
		cluster: cl,
		config:  cfg,
		applyMu: map[string]*sync.Mutex{},
		state: models.ReplicaState{
			DeploymentID:    deploymentID,
			CurrentReplicas: cfg.MinReplicas,
			MinReplicas:     cfg.MinReplicas,
			MaxReplicas:     cfg.MaxReplicas,
		},
	}
}

// State retorna snapshot do estado. Invariante mantida no snapshot:
// min <= current <= max.
func (c *Controller) State() models.ReplicaState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	s := c.state
	if s.CurrentReplicas < s.MinReplicas {
		s.CurrentReplicas = s.MinReplicas
	}
	if s.CurrentReplicas > s.MaxReplicas {
		s.CurrentReplicas = s.MaxReplicas
	}
	return s
}

// Apply escreve o número desejado de réplicas. Idempotente e seguro mesmo
// com um apply anterior ainda convergindo. Falhas transitórias são
// retentadas com backoff exponencial até o orçamento; depois, ErrApplyFatal.
func (c *Controller) Apply(ctx context.Context, desired int32) error {
	deployment := c.state.DeploymentID

	mu := c.deploymentMutex(deployment)
	mu.Lock()
	defer mu.Unlock()

	if desired < c.config.MinReplicas {
		desired = c.config.MinReplicas
	}
	if desired > c.config.MaxReplicas {
		desired = c.config.MaxReplicas
	}

	backoff := c.config.ApplyBackoff
	var lastErr error

	for attempt := 1; attempt <= c.config.ApplyMaxRetries; attempt++ {
		lastErr = c.cluster.SetReplicas(ctx, deployment, desired)
		if lastErr == nil {
			c.stateMu.Lock()
			c.state.LastScaleTime = time.Now()
			c.stateMu.Unlock()

			log.Info().
				Str("deployment", deployment).
				Int32("desired", desired).
				Int("attempt", attempt).
				Msg("Replica apply succeeded")

			// Plataforma pode demorar a convergir: o próximo tick enxerga
			// a contagem observada, não a desejada
			if _, err := c.Reconcile(ctx); err != nil {
				log.Warn().Err(err).
					Str("deployment", deployment).
					Msg("Post-apply reconcile failed, keeping last observed count")
			}
			return nil
		}

		log.Warn().
			Err(lastErr).
			Str("deployment", deployment).
			Int("attempt", attempt).
			Int("max_retries", c.config.ApplyMaxRetries).
			Dur("backoff", backoff).
			Msg("Replica apply failed, will retry")

		if attempt == c.config.ApplyMaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v (context cancelled after %d attempts)",
				ErrApplyFatal, lastErr, attempt)
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.config.ApplyBackoffMax {
			backoff = c.config.ApplyBackoffMax
		}
	}

	return fmt.Errorf("%w: %v (%d attempts)", ErrApplyFatal, lastErr, c.config.ApplyMaxRetries)
}

// Reconcile lê a contagem observada da plataforma e atualiza o estado.
// A convergência pode atrasar — o valor reportado é sempre o real.
func (c *Controller) Reconcile(ctx context.Context) (int32, error) {
	observed, err := c.cluster.CurrentReplicas(ctx, c.state.DeploymentID)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile replicas: %w", err)
	}

	c.stateMu.Lock()
	c.state.CurrentReplicas = observed
	c.stateMu.Unlock()

	return observed, nil
}

func (c *Controller) deploymentMutex(deployment string) *sync.Mutex {
	c.applyMuMu.Lock()
	defer c.applyMuMu.Unlock()

	mu, ok := c.applyMu[deployment]
	if !ok {
		mu = &sync.Mutex{}
		c.applyMu[deployment] = mu
	}
	return mu
}
