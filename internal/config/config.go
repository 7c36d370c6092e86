package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrConfigInvalid configuração malformada — fatal no startup, experimento não roda
var ErrConfigInvalid = errors.New("config invalid")

// EngineConfig thresholds e janelas do engine GPU-aware.
// Valores exatos vindos de configuração, nunca ajustados silenciosamente.
type EngineConfig struct {
	// Thresholds de GPU (%)
	GPUHighThreshold float64 // scale +3 (default: 80)
	GPUMidThreshold  float64 // scale +2 (default: 60)
	GPULowThreshold  float64 // scale +1 (default: 50)
	GPUIdleThreshold float64 // candidato a scale down (default: 20)

	// Thresholds de latência (ms)
	EmergencyLatencyMS float64 // emergência: +max(3, ceil(replicas*0.5)) (default: 1000)
	LowLatencyBoundMS  float64 // teto de latência para scale down (default: 100)

	// Scale down exige N ticks consecutivos qualificados
	ScaleDownSustainTicks int // default: 5

	// Cooldown em wall-clock após qualquer ação de scaling
	CooldownWindow time.Duration // default: 10s

	// Suavização EWMA dos inputs gpu_util/latency. Alpha 1.0 desliga
	// (valor cru), como nos cenários de referência.
	SmoothingAlpha float64 // default: 1.0
}

// BaselineConfig parâmetros do controller de referência dirigido por CPU
type BaselineConfig struct {
	CPUTargetPercent float64       // target de utilização, estilo HPA (default: 70)
	TolerancePercent float64       // banda morta em torno do target (default: 10)
	CooldownWindow   time.Duration // estabilização entre ações (default: 30s)
}

// ReplicaConfig limites e retry do ReplicaController
type ReplicaConfig struct {
	MinReplicas     int32
	MaxReplicas     int32
	ApplyMaxRetries int           // tentativas antes de ApplyFatal (default: 3)
	ApplyBackoff    time.Duration // backoff inicial, dobra a cada retry (default: 500ms)
	ApplyBackoffMax time.Duration // teto do backoff (default: 8s)
}

// CollectorConfig coleta de métricas por tick
type CollectorConfig struct {
	SourceTimeout time.Duration // timeout por fonte (default: 2s)
}

// LoadConfig gerador de carga sintética
type LoadConfig struct {
	Workers        int           // workers concorrentes (default: 20)
	RequestTimeout time.Duration // timeout por request (default: 30s)
	PacingInterval time.Duration // pausa entre requests de um worker (default: 100ms)
	ComputeSize    int           // parâmetro size do /compute (default: 1000)
}

// Config configuração completa do experimento. Uma struct tipada com
// defaults documentados, validada uma vez no startup.
type Config struct {
	// Alvo
	Namespace   string // default: userscale
	Deployment  string // default: userscale-app
	ServiceName string // default: userscale-app
	AppPort     int    // porta do /metrics e /healthz nos pods (default: 8000)
	ServiceURL  string // URL base para healthz/loadgen (default: http://localhost:8001)

	// Telemetria
	GPUDeviceIndex     int    // índice do device NVML (default: 0)
	PrometheusEndpoint string // vazio desliga a fonte de CPU via Prometheus
	SimulateTelemetry  bool   // usa fontes simuladas no lugar de hardware/cluster

	// Campanhas
	CampaignDuration time.Duration // duração de cada campanha (default: 5m)
	BaselineTick     time.Duration // tick do controller baseline (default: 15s)
	GPUAwareTick     time.Duration // tick do controller gpu-aware (default: 3s)
	BaselineReplicas int32         // réplicas de reset entre campanhas (default: 1)

	Engine    EngineConfig
	Baseline  BaselineConfig
	Replicas  ReplicaConfig
	Collector CollectorConfig
	Load      LoadConfig

	// Resultados
	ResultsDir string // default: results
	HistoryDB  string // caminho do SQLite, vazio desliga histórico
}

// DefaultConfig retorna configuração padrão
func DefaultConfig() *Config {
	return &Config{
		Namespace:   "userscale",
		Deployment:  "userscale-app",
		ServiceName: "userscale-app",
		AppPort:     8000,
		ServiceURL:  "http://localhost:8001",

		GPUDeviceIndex: 0,

		CampaignDuration: 5 * time.Minute,
		BaselineTick:     15 * time.Second,
		GPUAwareTick:     3 * time.Second,
		BaselineReplicas: 1,

		Engine: EngineConfig{
			GPUHighThreshold:      80,
			GPUMidThreshold:       60,
			GPULowThreshold:       50,
			GPUIdleThreshold:      20,
			EmergencyLatencyMS:    1000,
			LowLatencyBoundMS:     100,
			ScaleDownSustainTicks: 5,
			CooldownWindow:        10 * time.Second,
			SmoothingAlpha:        1.0,
		},
		Baseline: BaselineConfig{
			CPUTargetPercent: 70,
			TolerancePercent: 10,
			CooldownWindow:   30 * time.Second,
		},
		Replicas: ReplicaConfig{
			MinReplicas:     1,
			MaxReplicas:     10,
			ApplyMaxRetries: 3,
			ApplyBackoff:    500 * time.Millisecond,
			ApplyBackoffMax: 8 * time.Second,
		},
		Collector: CollectorConfig{
			SourceTimeout: 2 * time.Second,
		},
		Load: LoadConfig{
			Workers:        20,
			RequestTimeout: 30 * time.Second,
			PacingInterval: 100 * time.Millisecond,
			ComputeSize:    1000,
		},

		ResultsDir: "results",
	}
}

// FromEnv sobrepõe defaults com variáveis de ambiente (mesmos nomes do
// scaler original: NAMESPACE, DEPLOYMENT, MIN_REPLICAS, ...)
func FromEnv() *Config {
	cfg := DefaultConfig()

	cfg.Namespace = getenv("NAMESPACE", cfg.Namespace)
	cfg.Deployment = getenv("DEPLOYMENT", cfg.Deployment)
	cfg.ServiceName = getenv("SERVICE_NAME", cfg.ServiceName)
	cfg.ServiceURL = getenv("SERVICE_URL", cfg.ServiceURL)
	cfg.AppPort = getenvInt("APP_PORT", cfg.AppPort)
	cfg.PrometheusEndpoint = getenv("PROMETHEUS_ENDPOINT", cfg.PrometheusEndpoint)

	cfg.Replicas.MinReplicas = int32(getenvInt("MIN_REPLICAS", int(cfg.Replicas.MinReplicas)))
	cfg.Replicas.MaxReplicas = int32(getenvInt("MAX_REPLICAS", int(cfg.Replicas.MaxReplicas)))

	if v := getenvInt("SYNC_PERIOD", 0); v > 0 {
		cfg.GPUAwareTick = time.Duration(v) * time.Second
	}
	if v := getenvInt("CAMPAIGN_DURATION", 0); v > 0 {
		cfg.CampaignDuration = time.Duration(v) * time.Second
	}
	if v := getenvInt("COOLDOWN_SECONDS", 0); v > 0 {
		cfg.Engine.CooldownWindow = time.Duration(v) * time.Second
	}
	if v := getenvFloat("GPU_HIGH", 0); v > 0 {
		cfg.Engine.GPUHighThreshold = v
	}
	if v := getenvFloat("GPU_MID", 0); v > 0 {
		cfg.Engine.GPUMidThreshold = v
	}
	if v := getenvFloat("GPU_LOW", 0); v > 0 {
		cfg.Engine.GPULowThreshold = v
	}
	if v := getenvFloat("GPU_IDLE", 0); v > 0 {
		cfg.Engine.GPUIdleThreshold = v
	}
	if v := getenvFloat("LAT_EMERGENCY", 0); v > 0 {
		cfg.Engine.EmergencyLatencyMS = v
	}

	return cfg
}

// Validate valida a configuração inteira uma única vez no startup.
// Qualquer violação retorna ErrConfigInvalid — nada é re-validado ad hoc.
func (c *Config) Validate() error {
	if c.Replicas.MinReplicas < 1 {
		return fmt.Errorf("%w: min_replicas %d < 1", ErrConfigInvalid, c.Replicas.MinReplicas)
	}
	if c.Replicas.MinReplicas > c.Replicas.MaxReplicas {
		return fmt.Errorf("%w: min_replicas %d > max_replicas %d",
			ErrConfigInvalid, c.Replicas.MinReplicas, c.Replicas.MaxReplicas)
	}
	if c.BaselineReplicas < c.Replicas.MinReplicas || c.BaselineReplicas > c.Replicas.MaxReplicas {
		return fmt.Errorf("%w: baseline_replicas %d fora de [%d, %d]",
			ErrConfigInvalid, c.BaselineReplicas, c.Replicas.MinReplicas, c.Replicas.MaxReplicas)
	}

	e := &c.Engine
	if e.GPUIdleThreshold >= e.GPULowThreshold ||
		e.GPULowThreshold >= e.GPUMidThreshold ||
		e.GPUMidThreshold >= e.GPUHighThreshold {
		return fmt.Errorf("%w: thresholds de GPU devem ser idle < low < mid < high (%.0f/%.0f/%.0f/%.0f)",
			ErrConfigInvalid, e.GPUIdleThreshold, e.GPULowThreshold, e.GPUMidThreshold, e.GPUHighThreshold)
	}
	if e.EmergencyLatencyMS <= e.LowLatencyBoundMS {
		return fmt.Errorf("%w: emergency_latency %.0fms <= low_latency_bound %.0fms",
			ErrConfigInvalid, e.EmergencyLatencyMS, e.LowLatencyBoundMS)
	}
	if e.ScaleDownSustainTicks < 1 {
		return fmt.Errorf("%w: scale_down_sustain_ticks %d < 1", ErrConfigInvalid, e.ScaleDownSustainTicks)
	}
	if e.CooldownWindow <= 0 {
		return fmt.Errorf("%w: cooldown_window deve ser positivo", ErrConfigInvalid)
	}
	if e.SmoothingAlpha <= 0 || e.SmoothingAlpha > 1 {
		return fmt.Errorf("%w: smoothing_alpha %.2f fora de (0, 1]", ErrConfigInvalid, e.SmoothingAlpha)
	}

	if c.Baseline.CPUTargetPercent <= 0 || c.Baseline.CPUTargetPercent > 100 {
		return fmt.Errorf("%w: cpu_target %.0f%% fora de (0, 100]", ErrConfigInvalid, c.Baseline.CPUTargetPercent)
	}

	if c.Replicas.ApplyMaxRetries < 1 {
		return fmt.Errorf("%w: apply_max_retries %d < 1", ErrConfigInvalid, c.Replicas.ApplyMaxRetries)
	}
	if c.Collector.SourceTimeout <= 0 {
		return fmt.Errorf("%w: source_timeout deve ser positivo", ErrConfigInvalid)
	}
	if c.CampaignDuration <= 0 {
		return fmt.Errorf("%w: campaign_duration deve ser positivo", ErrConfigInvalid)
	}
	if c.GPUAwareTick <= 0 || c.BaselineTick <= 0 {
		return fmt.Errorf("%w: tick intervals devem ser positivos", ErrConfigInvalid)
	}
	if c.Load.Workers < 1 {
		return fmt.Errorf("%w: load workers %d < 1", ErrConfigInvalid, c.Load.Workers)
	}

	return nil
}

func getenv(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func getenvInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(name string, def float64) float64 {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
