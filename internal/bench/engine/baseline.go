package engine

import (
	"math"
	"time"

	"userscale-bench/internal/bench/models"
	"userscale-bench/internal/config"
)

// Baseline controller de referência dirigido por utilização de CPU, com a
// regra proporcional do HPA padrão: desired = ceil(current * cpu / target),
// banda morta de tolerância em torno do target e janela de estabilização.
type Baseline struct {
	config        *config.BaselineConfig
	cooldownUntil time.Time
}

// NewBaseline cria o controller de referência
func NewBaseline(cfg *config.BaselineConfig) *Baseline {
	if cfg == nil {
		c := config.DefaultConfig().Baseline
		cfg = &c
	}
	return &Baseline{config: cfg}
}

func (b *Baseline) Kind() models.ControllerKind {
	return models.ControllerBaseline
}

// Reset zera a janela de estabilização
func (b *Baseline) Reset() {
	b.cooldownUntil = time.Time{}
}

// Decide aplica a regra proporcional de CPU. CPU ausente no tick significa
// que o controller não enxerga nada — decisão stable, nunca um chute.
func (b *Baseline) Decide(sample *models.MetricSample, state models.ReplicaState) models.ScalingDecision {
	now := sample.Timestamp
	current := state.CurrentReplicas

	decision := models.ScalingDecision{
		Timestamp:      now,
		DeploymentID:   state.DeploymentID,
		ReplicasBefore: current,
		ReplicasAfter:  current,
	}

	if !b.cooldownUntil.IsZero() && now.Before(b.cooldownUntil) {
		decision.Reason = models.ReasonCooldownActive
		return decision
	}

	cpu, hasCPU := sample.Value(models.FieldCPUUtil)
	if !hasCPU {
		decision.Reason = models.ReasonStable
		return decision
	}

	ratio := cpu / b.config.CPUTargetPercent
	tolerance := b.config.TolerancePercent / 100.0

	if math.Abs(ratio-1) <= tolerance {
		decision.Reason = models.ReasonStable
		return decision
	}

	desired := int32(math.Ceil(float64(current) * ratio))
	after := clampI32(desired, state.MinReplicas, state.MaxReplicas)
	decision.ReplicasAfter = after
	decision.TriggeringMetric = models.FieldCPUUtil

	if ratio > 1 {
		decision.Reason = models.ReasonCPUAboveTarget
	} else {
		decision.Reason = models.ReasonCPUBelowTarget
	}

	if after == current {
		decision.Reason = models.ReasonNoChange
		return decision
	}

	b.cooldownUntil = now.Add(b.config.CooldownWindow)
	return decision
}
