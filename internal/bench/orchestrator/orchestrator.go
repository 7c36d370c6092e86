package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"userscale-bench/internal/bench/analyzer"
	"userscale-bench/internal/bench/collector"
	"userscale-bench/internal/bench/engine"
	"userscale-bench/internal/bench/loadgen"
	"userscale-bench/internal/bench/models"
	"userscale-bench/internal/bench/replicas"
	"userscale-bench/internal/bench/storage"
	"userscale-bench/internal/config"
)

// healthz gate: quantas vezes e com que espaçamento o alvo é sondado antes
// do experimento começar
const (
	healthProbeAttempts = 10
	healthProbeInterval = 3 * time.Second
)

// Orchestrator conduz o experimento completo: gate de saúde, campanha
// baseline, campanha gpu-aware (estritamente sequenciais, nunca
// concorrentes) e o relatório de comparação no fim.
type Orchestrator struct {
	config     *config.Config
	collector  *collector.Collector
	controller *replicas.Controller
	load       *loadgen.Generator
	results    *storage.ResultsStore
	history    *storage.History // nil desliga histórico

	httpClient *http.Client
}

// New cria orchestrator com as dependências já montadas
func New(
	cfg *config.Config,
	col *collector.Collector,
	ctrl *replicas.Controller,
	load *loadgen.Generator,
	results *storage.ResultsStore,
	history *storage.History,
) *Orchestrator {
	return &Orchestrator{
		config:     cfg,
		collector:  col,
		controller: ctrl,
		load:       load,
		results:    results,
		history:    history,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Run executa o experimento inteiro e retorna o relatório de comparação.
// Uma campanha abortada não derruba o experimento: a outra ainda roda e a
// comparação sai com os dados parciais marcados.
func (o *Orchestrator) Run(ctx context.Context) (*models.ComparisonReport, error) {
	if err := o.waitHealthy(ctx); err != nil {
		return nil, fmt.Errorf("target service not healthy: %w", err)
	}

	experimentID := uuid.NewString()

	log.Info().
		Str("experiment_id", experimentID).
		Str("namespace", o.config.Namespace).
		Str("deployment", o.config.Deployment).
		Dur("campaign_duration", o.config.CampaignDuration).
		Msg("Experiment started")

	if o.history != nil {
		if err := o.history.StartExperiment(experimentID, o.config.Namespace, o.config.Deployment, time.Now()); err != nil {
			log.Warn().Err(err).Msg("Failed to record experiment start in history")
		}
	}

	// Campanhas em ordem fixa: baseline primeiro, depois gpu-aware
	baselineEngine := engine.NewBaseline(&o.config.Baseline)
	baseline, err := o.runCampaign(ctx, experimentID, baselineEngine, o.config.BaselineTick)
	if err != nil {
		return nil, err
	}

	gpuEngine := engine.NewGPUAware(&o.config.Engine)
	gpuAware, err := o.runCampaign(ctx, experimentID, gpuEngine, o.config.GPUAwareTick)
	if err != nil {
		return nil, err
	}

	report, err := analyzer.Compare(experimentID, baseline, gpuAware)
	if err != nil {
		return nil, fmt.Errorf("failed to build comparison: %w", err)
	}

	if err := o.results.SaveComparison(report); err != nil {
		return nil, err
	}
	if o.history != nil {
		aborted := baseline.Aborted || gpuAware.Aborted
		if err := o.history.FinishExperiment(experimentID, report, aborted); err != nil {
			log.Warn().Err(err).Msg("Failed to record experiment finish in history")
		}
	}

	log.Info().
		Str("experiment_id", experimentID).
		Float64("delta_gpu_util", report.Deltas.AvgGPUUtil).
		Float64("delta_avg_replicas", report.Deltas.AvgReplicas).
		Msg("Experiment finished")

	return report, nil
}

// runCampaign roda uma campanha cronometrada de um único controller.
// A limpeza é idêntica no fim normal e no abort: parar carga, voltar às
// réplicas baseline, finalizar e gravar a campanha.
func (o *Orchestrator) runCampaign(
	ctx context.Context,
	experimentID string,
	eng engine.Engine,
	tick time.Duration,
) (*models.Campaign, error) {
	// Reset para condição inicial idêntica entre campanhas
	if err := o.controller.Apply(ctx, o.config.BaselineReplicas); err != nil {
		return nil, fmt.Errorf("failed to reset replicas before campaign: %w", err)
	}
	eng.Reset()

	campaign := models.NewCampaign(
		uuid.NewString(),
		eng.Kind(),
		time.Now(),
		o.config.CampaignDuration,
		tick,
	)

	log.Info().
		Str("campaign_id", campaign.ID).
		Str("controller", string(eng.Kind())).
		Dur("tick", tick).
		Msg("Campaign started")

	campaignCtx, cancel := context.WithTimeout(ctx, o.config.CampaignDuration)
	defer cancel()

	o.load.Start(campaignCtx)

	aborted := false
	stream := o.collector.Stream(campaignCtx, tick)

	for sample := range stream {
		state := o.controller.State()
		decision := eng.Decide(sample, state)
		campaign.Record(*sample, decision)

		if decision.IsNoOp() {
			continue
		}

		if err := o.controller.Apply(campaignCtx, decision.ReplicasAfter); err != nil {
			if errors.Is(err, replicas.ErrApplyFatal) {
				// Campanha aborta com dados parciais; o experimento segue
				log.Error().Err(err).
					Str("campaign_id", campaign.ID).
					Msg("Replica apply failed permanently, aborting campaign")
				aborted = true
				break
			}
			log.Warn().Err(err).
				Str("campaign_id", campaign.ID).
				Msg("Replica apply failed, continuing campaign")
		}
	}

	// Cancelamento externo também é abort (dados parciais preservados)
	if ctx.Err() != nil {
		aborted = true
	}

	o.cleanupCampaign(experimentID, campaign, aborted)

	if ctx.Err() != nil {
		return campaign, fmt.Errorf("experiment cancelled: %w", ctx.Err())
	}
	return campaign, nil
}

// cleanupCampaign caminho único de encerramento, normal ou abortado
func (o *Orchestrator) cleanupCampaign(experimentID string, campaign *models.Campaign, aborted bool) {
	o.load.Stop()
	campaign.Load = o.load.Summary()
	campaign.Finalize(aborted)

	// O contexto da campanha pode já estar cancelado: a limpeza usa um
	// contexto próprio para conseguir voltar às réplicas baseline
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := o.controller.Apply(cleanupCtx, o.config.BaselineReplicas); err != nil {
		log.Warn().Err(err).
			Str("campaign_id", campaign.ID).
			Msg("Failed to reset replicas after campaign")
	}

	if err := o.results.SaveCampaign(experimentID, campaign); err != nil {
		log.Error().Err(err).
			Str("campaign_id", campaign.ID).
			Msg("Failed to save campaign results")
	}
	if o.history != nil {
		agg := analyzer.Aggregate(campaign)
		if err := o.history.SaveCampaign(experimentID, campaign, agg); err != nil {
			log.Warn().Err(err).
				Str("campaign_id", campaign.ID).
				Msg("Failed to save campaign to history")
		}
	}

	log.Info().
		Str("campaign_id", campaign.ID).
		Str("controller", string(campaign.ControllerKind)).
		Int("samples", len(campaign.Samples)).
		Bool("aborted", aborted).
		Msg("Campaign finished")
}

// waitHealthy sonda o /healthz do serviço alvo até responder 200.
// O experimento não começa com o alvo fora do ar.
func (o *Orchestrator) waitHealthy(ctx context.Context) error {
	url := o.config.ServiceURL + "/healthz"

	var lastErr error
	for attempt := 1; attempt <= healthProbeAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		resp, err := o.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				log.Info().Str("url", url).Msg("Target service healthy")
				return nil
			}
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		log.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Int("max_attempts", healthProbeAttempts).
			Msg("Target service not ready, will retry")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(healthProbeInterval):
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", healthProbeAttempts, lastErr)
}
