package engine

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"userscale-bench/internal/bench/models"
	"userscale-bench/internal/config"
)

// Engine decide scaling a partir de um MetricSample e um snapshot de
// ReplicaState. Implementações devem ser determinísticas: o mesmo histórico
// de samples contra um engine recém-criado reproduz as mesmas decisões.
type Engine interface {
	// Kind identifica o controller nos resultados
	Kind() models.ControllerKind

	// Decide avalia um tick. "Agora" é o timestamp do sample, nunca o
	// relógio do processo — isso mantém o replay determinístico.
	Decide(sample *models.MetricSample, state models.ReplicaState) models.ScalingDecision

	// Reset zera o estado interno para uma campanha nova
	Reset()
}

// ewma suavização exponencial dos inputs. Alpha 1.0 = passthrough.
type ewma struct {
	alpha float64
	value float64
	set   bool
}

func (e *ewma) update(x float64) float64 {
	if !e.set {
		e.value = x
		e.set = true
		return e.value
	}
	e.value = e.alpha*x + (1-e.alpha)*e.value
	return e.value
}

func (e *ewma) reset() {
	e.set = false
	e.value = 0
}

// GPUAware engine custom dirigido por GPU, latência e concorrência.
//
// Estados: Idle (nenhuma ação pendente) e Cooldown (scaling suprimido até
// um deadline wall-clock). Cooldown não é preemptável: nenhuma regra fura
// a janela, nem a de emergência.
type GPUAware struct {
	config *config.EngineConfig

	cooldownUntil time.Time // zero = Idle
	lowTicks      int       // ticks consecutivos qualificados para scale down

	gpuSmooth ewma
	latSmooth ewma
}

// NewGPUAware cria o engine custom
func NewGPUAware(cfg *config.EngineConfig) *GPUAware {
	if cfg == nil {
		c := config.DefaultConfig().Engine
		cfg = &c
	}
	return &GPUAware{
		config:    cfg,
		gpuSmooth: ewma{alpha: cfg.SmoothingAlpha},
		latSmooth: ewma{alpha: cfg.SmoothingAlpha},
	}
}

func (g *GPUAware) Kind() models.ControllerKind {
	return models.ControllerGPUAware
}

// Reset zera cooldown, contador de scale down e suavização
func (g *GPUAware) Reset() {
	g.cooldownUntil = time.Time{}
	g.lowTicks = 0
	g.gpuSmooth.reset()
	g.latSmooth.reset()
}

// Decide avalia os tiers de regras em ordem de prioridade e aplica somente
// a primeira que casar. Emite uma decisão em todo tick, inclusive no-ops.
func (g *GPUAware) Decide(sample *models.MetricSample, state models.ReplicaState) models.ScalingDecision {
	now := sample.Timestamp
	current := state.CurrentReplicas

	decision := models.ScalingDecision{
		Timestamp:      now,
		DeploymentID:   state.DeploymentID,
		ReplicasBefore: current,
		ReplicasAfter:  current,
	}

	// Cooldown ativo: scaling suprimido, estado intocado
	if !g.cooldownUntil.IsZero() && now.Before(g.cooldownUntil) {
		decision.Reason = models.ReasonCooldownActive
		return decision
	}

	gpuRaw, hasGPU := sample.Value(models.FieldGPUUtil)
	latRaw, hasLat := sample.Value(models.FieldLatency)

	// GPU ausente: nenhuma regra de GPU pode disparar neste tick — o engine
	// não chuta valor. A regra de emergência por latência ainda pode disparar.
	var gpu, lat float64
	if hasGPU {
		gpu = g.gpuSmooth.update(gpuRaw)
	}
	if hasLat {
		lat = g.latSmooth.update(latRaw)
	}

	var delta int32
	switch {
	case hasLat && lat >= g.config.EmergencyLatencyMS:
		delta = maxI32(3, int32(math.Ceil(float64(current)*0.5)))
		decision.Reason = models.ReasonLatencyEmergency
		decision.TriggeringMetric = models.FieldLatency
		g.lowTicks = 0

	case hasGPU && gpu >= g.config.GPUHighThreshold:
		delta = 3
		decision.Reason = models.ReasonGPUHigh
		decision.TriggeringMetric = models.FieldGPUUtil
		g.lowTicks = 0

	case hasGPU && gpu >= g.config.GPUMidThreshold:
		delta = 2
		decision.Reason = models.ReasonGPUMid
		decision.TriggeringMetric = models.FieldGPUUtil
		g.lowTicks = 0

	case hasGPU && gpu >= g.config.GPULowThreshold:
		delta = 1
		decision.Reason = models.ReasonGPULowUp
		decision.TriggeringMetric = models.FieldGPUUtil
		g.lowTicks = 0

	case hasGPU && hasLat && gpu < g.config.GPUIdleThreshold && lat < g.config.LowLatencyBoundMS:
		// Scale down exige N ticks consecutivos qualificados
		g.lowTicks++
		if g.lowTicks >= g.config.ScaleDownSustainTicks {
			delta = -1
			decision.Reason = models.ReasonScaleDown
			decision.TriggeringMetric = models.FieldGPUUtil
			g.lowTicks = 0
		} else {
			decision.Reason = models.ReasonStable
		}

	default:
		// Tick não qualificado quebra a sequência consecutiva do scale down
		g.lowTicks = 0
		decision.Reason = models.ReasonStable
	}

	after := clampI32(current+delta, state.MinReplicas, state.MaxReplicas)
	decision.ReplicasAfter = after

	// Regra casou mas o clamp saturou no limite: vira no_change
	if delta != 0 && after == current {
		decision.Reason = models.ReasonNoChange
	}

	if after != current {
		g.cooldownUntil = now.Add(g.config.CooldownWindow)
		log.Debug().
			Str("reason", string(decision.Reason)).
			Int32("before", current).
			Int32("after", after).
			Time("cooldown_until", g.cooldownUntil).
			Msg("Scaling decision")
	}

	return decision
}

func clampI32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxI32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
