package models

import (
	"sort"
	"time"
)

// ControllerKind identifica qual autoscaler conduziu a campanha
type ControllerKind string

const (
	ControllerBaseline ControllerKind = "baseline"  // HPA padrão dirigido por CPU
	ControllerGPUAware ControllerKind = "gpu_aware" // Scaler custom (GPU + latência + concorrência)
)

// Field nome de um campo de métrica dentro de um MetricSample
type Field string

const (
	FieldGPUUtil     Field = "gpu_util_percent"
	FieldGPUMem      Field = "gpu_mem_mb"
	FieldGPUTemp     Field = "gpu_temperature"
	FieldCPUUtil     Field = "cpu_util_percent"
	FieldLatency     Field = "latency_ms"
	FieldConcurrency Field = "concurrent_requests"
)

// AllFields campos que um sample completo deve conter
var AllFields = []Field{
	FieldGPUUtil,
	FieldGPUMem,
	FieldGPUTemp,
	FieldCPUUtil,
	FieldLatency,
	FieldConcurrency,
}

// MetricSample um sample agregado por tick. Imutável depois de criado.
// Campos ausentes ficam em Missing — nunca são defaultados para zero.
type MetricSample struct {
	Timestamp          time.Time `json:"timestamp"`
	GPUUtilPercent     float64   `json:"gpu_util_percent"`
	GPUMemMB           float64   `json:"gpu_mem_mb"`
	GPUTemperature     float64   `json:"gpu_temperature"`
	CPUUtilPercent     float64   `json:"cpu_util_percent"`
	LatencyMS          float64   `json:"latency_ms"`
	ConcurrentRequests float64   `json:"concurrent_requests"`

	// Missing lista (ordenada) dos campos que nenhuma fonte reportou neste tick
	Missing []Field `json:"missing,omitempty"`
}

// Has retorna true se o campo foi reportado neste sample
func (s *MetricSample) Has(field Field) bool {
	for _, f := range s.Missing {
		if f == field {
			return false
		}
	}
	return true
}

// Value retorna o valor de um campo e se ele está presente
func (s *MetricSample) Value(field Field) (float64, bool) {
	if !s.Has(field) {
		return 0, false
	}
	switch field {
	case FieldGPUUtil:
		return s.GPUUtilPercent, true
	case FieldGPUMem:
		return s.GPUMemMB, true
	case FieldGPUTemp:
		return s.GPUTemperature, true
	case FieldCPUUtil:
		return s.CPUUtilPercent, true
	case FieldLatency:
		return s.LatencyMS, true
	case FieldConcurrency:
		return s.ConcurrentRequests, true
	}
	return 0, false
}

// SetValue preenche um campo nomeado (usado pelo collector ao montar o sample)
func (s *MetricSample) SetValue(field Field, value float64) {
	switch field {
	case FieldGPUUtil:
		s.GPUUtilPercent = value
	case FieldGPUMem:
		s.GPUMemMB = value
	case FieldGPUTemp:
		s.GPUTemperature = value
	case FieldCPUUtil:
		s.CPUUtilPercent = value
	case FieldLatency:
		s.LatencyMS = value
	case FieldConcurrency:
		s.ConcurrentRequests = value
	}
}

// MarkMissing registra campos ausentes mantendo a lista ordenada
func (s *MetricSample) MarkMissing(fields ...Field) {
	s.Missing = append(s.Missing, fields...)
	sort.Slice(s.Missing, func(i, j int) bool { return s.Missing[i] < s.Missing[j] })
}

// ReplicaState snapshot do estado de réplicas de um deployment.
// Propriedade exclusiva do ReplicaController; o engine só lê cópias.
// Invariante: MinReplicas <= CurrentReplicas <= MaxReplicas.
type ReplicaState struct {
	DeploymentID    string    `json:"deployment_id"`
	CurrentReplicas int32     `json:"current_replicas"`
	MinReplicas     int32     `json:"min_replicas"`
	MaxReplicas     int32     `json:"max_replicas"`
	LastScaleTime   time.Time `json:"last_scale_time"`
}

// ReasonCode motivo registrado em cada ScalingDecision
type ReasonCode string

const (
	ReasonLatencyEmergency ReasonCode = "latency_emergency"
	ReasonGPUHigh          ReasonCode = "gpu_high"
	ReasonGPUMid           ReasonCode = "gpu_mid"
	ReasonGPULowUp         ReasonCode = "gpu_low_up"
	ReasonScaleDown        ReasonCode = "scale_down"
	ReasonCooldownActive   ReasonCode = "cooldown_active"
	ReasonStable           ReasonCode = "stable"
	ReasonNoChange         ReasonCode = "no_change"

	// Reasons exclusivos do controller baseline (CPU)
	ReasonCPUAboveTarget ReasonCode = "cpu_above_target"
	ReasonCPUBelowTarget ReasonCode = "cpu_below_target"
)

// ScalingDecision decisão emitida a cada tick (inclusive no-ops).
// Append-only: é a trilha de auditoria do engine.
type ScalingDecision struct {
	Timestamp        time.Time  `json:"timestamp"`
	DeploymentID     string     `json:"deployment_id"`
	ReplicasBefore   int32      `json:"replicas_before"`
	ReplicasAfter    int32      `json:"replicas_after"`
	Reason           ReasonCode `json:"reason_code"`
	TriggeringMetric Field      `json:"triggering_metric,omitempty"`
}

// IsNoOp retorna true se a decisão não altera o número de réplicas
func (d *ScalingDecision) IsNoOp() bool {
	return d.ReplicasBefore == d.ReplicasAfter
}

// LoadSummary contadores do gerador de carga durante uma campanha
type LoadSummary struct {
	RequestsSent   int64   `json:"requests_sent"`
	RequestsFailed int64   `json:"requests_failed"`
	AvgLatencyMS   float64 `json:"avg_latency_ms"`
}

// Campaign uma rodada cronometrada de um único controller contra o workload.
// Criada no início, finalizada (imutável) no fim ou no abort.
type Campaign struct {
	ID             string            `json:"id"`
	ControllerKind ControllerKind    `json:"controller_kind"`
	StartTime      time.Time         `json:"start_time"`
	Duration       time.Duration     `json:"duration"`
	TickInterval   time.Duration     `json:"tick_interval"`
	Samples        []MetricSample    `json:"samples"`
	Decisions      []ScalingDecision `json:"decisions"`
	Load           LoadSummary       `json:"load"`
	Aborted        bool              `json:"aborted"`

	finalized bool
}

// NewCampaign cria uma campanha aberta para um controller
func NewCampaign(id string, kind ControllerKind, start time.Time, duration, tick time.Duration) *Campaign {
	return &Campaign{
		ID:             id,
		ControllerKind: kind,
		StartTime:      start,
		Duration:       duration,
		TickInterval:   tick,
		Samples:        []MetricSample{},
		Decisions:      []ScalingDecision{},
	}
}

// Record acrescenta o sample e a decisão de um tick. Ignorado após finalize.
func (c *Campaign) Record(sample MetricSample, decision ScalingDecision) {
	if c.finalized {
		return
	}
	c.Samples = append(c.Samples, sample)
	c.Decisions = append(c.Decisions, decision)
}

// Finalize fecha a campanha. Dados parciais nunca são descartados no abort.
func (c *Campaign) Finalize(aborted bool) {
	if c.finalized {
		return
	}
	c.Aborted = aborted
	c.finalized = true
}

// Finalized retorna true se a campanha já foi fechada
func (c *Campaign) Finalized() bool {
	return c.finalized
}

// FieldStats estatísticas de um campo excluindo samples com campo ausente
type FieldStats struct {
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"` // samples com o campo presente
}

// ReplicaStats trajetória de réplicas durante a campanha
type ReplicaStats struct {
	Min int32   `json:"min"`
	Max int32   `json:"max"`
	Avg float64 `json:"avg"`
}

// CampaignAggregates agregados de uma campanha finalizada
type CampaignAggregates struct {
	ControllerKind    ControllerKind `json:"controller_kind"`
	GPUUtil           FieldStats     `json:"gpu_util"`
	CPUUtil           FieldStats     `json:"cpu_util"`
	Latency           FieldStats     `json:"latency"`
	Replicas          ReplicaStats   `json:"replicas"`
	ScalingEvents     int            `json:"scaling_events"` // decisões não-no-op
	TimeToFirstAction float64        `json:"time_to_first_action_seconds"`
	SampleCount       int            `json:"sample_count"`
	Aborted           bool           `json:"aborted"`

	// Métricas derivadas do analisador original
	GPUEfficiencyPerPod float64 `json:"gpu_efficiency_per_pod"` // gpu_util médio / réplicas médias
	ScalingEfficiency   float64 `json:"scaling_efficiency"`     // réplicas médias / réplicas máximas
}

// ComparisonDeltas deltas derivados (gpu_aware menos baseline)
type ComparisonDeltas struct {
	AvgGPUUtil    float64 `json:"avg_gpu_util"`
	AvgCPUUtil    float64 `json:"avg_cpu_util"`
	AvgLatency    float64 `json:"avg_latency"`
	AvgReplicas   float64 `json:"avg_replicas"`
	ScalingEvents int     `json:"scaling_events"`
}

// ComparisonReport visão read-only combinando duas campanhas finalizadas
type ComparisonReport struct {
	ExperimentID string             `json:"experiment_id"`
	GeneratedAt  time.Time          `json:"generated_at"`
	Baseline     CampaignAggregates `json:"baseline"`
	GPUAware     CampaignAggregates `json:"gpu_aware"`
	Deltas       ComparisonDeltas   `json:"deltas"`
	Winners      map[string]string  `json:"winners"` // métrica -> controller_kind vencedor
}
