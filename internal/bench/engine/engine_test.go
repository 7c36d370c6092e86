package engine

import (
	"testing"
	"time"

	"userscale-bench/internal/bench/models"
	"userscale-bench/internal/config"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// makeSample monta sample com GPU e latência presentes
func makeSample(ts time.Time, gpuUtil, latency float64) *models.MetricSample {
	s := &models.MetricSample{
		Timestamp:      ts,
		GPUUtilPercent: gpuUtil,
		LatencyMS:      latency,
	}
	s.MarkMissing(models.FieldGPUMem, models.FieldGPUTemp, models.FieldCPUUtil, models.FieldConcurrency)
	return s
}

func makeState(current int32) models.ReplicaState {
	return models.ReplicaState{
		DeploymentID:    "userscale-app",
		CurrentReplicas: current,
		MinReplicas:     1,
		MaxReplicas:     10,
	}
}

func TestGPUHighScalesUpByThree(t *testing.T) {
	eng := NewGPUAware(nil)

	decision := eng.Decide(makeSample(t0, 85, 50), makeState(2))

	if decision.ReplicasAfter != 5 {
		t.Errorf("expected 5 replicas, got %d", decision.ReplicasAfter)
	}
	if decision.Reason != models.ReasonGPUHigh {
		t.Errorf("expected reason gpu_high, got %s", decision.Reason)
	}
	if decision.TriggeringMetric != models.FieldGPUUtil {
		t.Errorf("expected triggering metric gpu_util_percent, got %s", decision.TriggeringMetric)
	}
}

func TestGPUTiers(t *testing.T) {
	tests := []struct {
		name    string
		gpuUtil float64
		want    int32
		reason  models.ReasonCode
	}{
		{"high tier", 80, 5, models.ReasonGPUHigh},
		{"mid tier", 65, 4, models.ReasonGPUMid},
		{"low up tier", 55, 3, models.ReasonGPULowUp},
		{"between idle and low", 35, 2, models.ReasonStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := NewGPUAware(nil)
			decision := eng.Decide(makeSample(t0, tt.gpuUtil, 200), makeState(2))

			if decision.ReplicasAfter != tt.want {
				t.Errorf("expected %d replicas, got %d", tt.want, decision.ReplicasAfter)
			}
			if decision.Reason != tt.reason {
				t.Errorf("expected reason %s, got %s", tt.reason, decision.Reason)
			}
		})
	}
}

func TestLatencyEmergencyFormula(t *testing.T) {
	// +max(3, ceil(current * 0.5))
	tests := []struct {
		current int32
		want    int32
	}{
		{1, 4},  // delta = max(3, ceil(0.5)) = 3
		{4, 7},  // delta = max(3, ceil(2.0)) = 3
		{8, 10}, // delta = max(3, ceil(4.0)) = 4, clamp em 10
	}

	for _, tt := range tests {
		eng := NewGPUAware(nil)
		// GPU baixa: emergência tem prioridade sobre qualquer tier
		decision := eng.Decide(makeSample(t0, 10, 1500), makeState(tt.current))

		if decision.ReplicasAfter != tt.want {
			t.Errorf("current=%d: expected %d replicas, got %d", tt.current, tt.want, decision.ReplicasAfter)
		}
		if decision.Reason != models.ReasonLatencyEmergency {
			t.Errorf("current=%d: expected reason latency_emergency, got %s", tt.current, decision.Reason)
		}
	}
}

func TestEmergencyWinsOverGPUTier(t *testing.T) {
	eng := NewGPUAware(nil)

	// GPU no tier baixo e latência de emergência no mesmo tick:
	// só a regra de maior prioridade aplica
	decision := eng.Decide(makeSample(t0, 55, 1500), makeState(4))

	if decision.Reason != models.ReasonLatencyEmergency {
		t.Errorf("expected latency_emergency to win over gpu_low_up, got %s", decision.Reason)
	}
	if decision.ReplicasAfter != 7 {
		t.Errorf("expected 7 replicas (+max(3, ceil(2))), got %d", decision.ReplicasAfter)
	}
}

func TestEmergencyFiresWithoutGPU(t *testing.T) {
	eng := NewGPUAware(nil)

	s := &models.MetricSample{Timestamp: t0, LatencyMS: 2000}
	s.MarkMissing(models.FieldGPUUtil, models.FieldGPUMem, models.FieldGPUTemp,
		models.FieldCPUUtil, models.FieldConcurrency)

	decision := eng.Decide(s, makeState(2))

	if decision.Reason != models.ReasonLatencyEmergency {
		t.Errorf("expected latency emergency with missing GPU, got %s", decision.Reason)
	}
	if decision.ReplicasAfter != 5 {
		t.Errorf("expected 5 replicas, got %d", decision.ReplicasAfter)
	}
}

func TestMissingGPUDisablesGPURules(t *testing.T) {
	eng := NewGPUAware(nil)

	// Latência normal, GPU ausente: nada pode disparar
	s := &models.MetricSample{Timestamp: t0, LatencyMS: 200}
	s.MarkMissing(models.FieldGPUUtil, models.FieldGPUMem, models.FieldGPUTemp,
		models.FieldCPUUtil, models.FieldConcurrency)

	decision := eng.Decide(s, makeState(3))

	if !decision.IsNoOp() {
		t.Errorf("expected no-op with missing GPU, got %d -> %d", decision.ReplicasBefore, decision.ReplicasAfter)
	}
	if decision.Reason != models.ReasonStable {
		t.Errorf("expected reason stable, got %s", decision.Reason)
	}
}

func TestScaleDownRequiresSustainedTicks(t *testing.T) {
	eng := NewGPUAware(nil)
	tick := 3 * time.Second

	// 4 ticks qualificados: ainda não desce (default exige 5)
	for i := 0; i < 4; i++ {
		decision := eng.Decide(makeSample(t0.Add(time.Duration(i)*tick), 10, 50), makeState(4))
		if !decision.IsNoOp() {
			t.Fatalf("tick %d: expected no-op while sustaining, got %d -> %d",
				i, decision.ReplicasBefore, decision.ReplicasAfter)
		}
	}

	// 5º tick qualificado dispara -1
	decision := eng.Decide(makeSample(t0.Add(4*tick), 10, 50), makeState(4))
	if decision.ReplicasAfter != 3 {
		t.Errorf("expected scale down to 3, got %d", decision.ReplicasAfter)
	}
	if decision.Reason != models.ReasonScaleDown {
		t.Errorf("expected reason scale_down, got %s", decision.Reason)
	}
}

func TestScaleDownCounterResetOnNonQualifyingTick(t *testing.T) {
	eng := NewGPUAware(nil)
	tick := 3 * time.Second
	ts := t0

	// 4 ticks qualificados
	for i := 0; i < 4; i++ {
		eng.Decide(makeSample(ts, 10, 50), makeState(4))
		ts = ts.Add(tick)
	}

	// Tick não qualificado (GPU entre idle e low) quebra a sequência
	eng.Decide(makeSample(ts, 30, 50), makeState(4))
	ts = ts.Add(tick)

	// Mais 4 qualificados: ainda não pode descer
	for i := 0; i < 4; i++ {
		decision := eng.Decide(makeSample(ts, 10, 50), makeState(4))
		if !decision.IsNoOp() {
			t.Fatalf("expected no-op after counter reset, got %d -> %d",
				decision.ReplicasBefore, decision.ReplicasAfter)
		}
		ts = ts.Add(tick)
	}
}

func TestCooldownSuppressesScaling(t *testing.T) {
	eng := NewGPUAware(nil)

	// Primeira ação arma o cooldown de 10s
	first := eng.Decide(makeSample(t0, 85, 200), makeState(2))
	if first.IsNoOp() {
		t.Fatal("expected first decision to scale")
	}

	// Dentro da janela: suprimido mesmo com GPU alta
	during := eng.Decide(makeSample(t0.Add(5*time.Second), 95, 200), makeState(5))
	if !during.IsNoOp() {
		t.Errorf("expected no-op during cooldown, got %d -> %d", during.ReplicasBefore, during.ReplicasAfter)
	}
	if during.Reason != models.ReasonCooldownActive {
		t.Errorf("expected reason cooldown_active, got %s", during.Reason)
	}

	// Janela expirada: volta a agir
	after := eng.Decide(makeSample(t0.Add(11*time.Second), 95, 200), makeState(5))
	if after.IsNoOp() {
		t.Error("expected scaling after cooldown expired")
	}
}

func TestClampSaturationBecomesNoChange(t *testing.T) {
	eng := NewGPUAware(nil)

	// Já no máximo: regra casa mas clamp satura
	decision := eng.Decide(makeSample(t0, 90, 200), makeState(10))

	if decision.ReplicasAfter != 10 {
		t.Errorf("expected clamp at 10, got %d", decision.ReplicasAfter)
	}
	if decision.Reason != models.ReasonNoChange {
		t.Errorf("expected reason no_change at saturation, got %s", decision.Reason)
	}
}

func TestNoCooldownAfterSaturatedDecision(t *testing.T) {
	eng := NewGPUAware(nil)

	// Decisão saturada não arma cooldown
	eng.Decide(makeSample(t0, 90, 200), makeState(10))

	decision := eng.Decide(makeSample(t0.Add(3*time.Second), 90, 200), makeState(5))
	if decision.Reason == models.ReasonCooldownActive {
		t.Error("saturated decision must not arm cooldown")
	}
	if decision.ReplicasAfter != 8 {
		t.Errorf("expected 8 replicas, got %d", decision.ReplicasAfter)
	}
}

func TestDeterministicReplay(t *testing.T) {
	type step struct {
		gpu, lat float64
		current  int32
	}
	steps := []step{
		{85, 100, 2}, {90, 150, 5}, {30, 80, 5}, {10, 50, 5},
		{10, 40, 5}, {10, 45, 5}, {10, 42, 5}, {10, 48, 5},
		{60, 300, 4}, {95, 900, 6},
	}

	run := func() []models.ScalingDecision {
		eng := NewGPUAware(nil)
		out := make([]models.ScalingDecision, 0, len(steps))
		ts := t0
		for _, st := range steps {
			out = append(out, eng.Decide(makeSample(ts, st.gpu, st.lat), makeState(st.current)))
			ts = ts.Add(3 * time.Second)
		}
		return out
	}

	a := run()
	b := run()

	for i := range a {
		if a[i] != b[i] {
			t.Errorf("replay diverged at step %d: %+v != %+v", i, a[i], b[i])
		}
	}
}

func TestResetClearsState(t *testing.T) {
	eng := NewGPUAware(nil)

	// Arma cooldown e acumula ticks de scale down
	eng.Decide(makeSample(t0, 85, 200), makeState(2))
	eng.Reset()

	// Pós-reset: sem cooldown pendente
	decision := eng.Decide(makeSample(t0.Add(time.Second), 85, 200), makeState(2))
	if decision.Reason == models.ReasonCooldownActive {
		t.Error("expected no cooldown after Reset")
	}
	if decision.ReplicasAfter != 5 {
		t.Errorf("expected 5 replicas, got %d", decision.ReplicasAfter)
	}
}

func TestEWMASmoothingDampensSpike(t *testing.T) {
	cfg := config.DefaultConfig().Engine
	cfg.SmoothingAlpha = 0.3
	eng := NewGPUAware(&cfg)

	// Histórico baixo, depois spike: suavizado não cruza o tier alto
	eng.Decide(makeSample(t0, 20, 200), makeState(2))
	decision := eng.Decide(makeSample(t0.Add(3*time.Second), 95, 200), makeState(2))

	// 0.3*95 + 0.7*20 = 42.5 -> abaixo do tier low (50)
	if decision.Reason != models.ReasonStable {
		t.Errorf("expected smoothed spike to stay stable, got %s", decision.Reason)
	}
}
