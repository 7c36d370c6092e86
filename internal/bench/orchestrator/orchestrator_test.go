package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"userscale-bench/internal/bench/cluster"
	"userscale-bench/internal/bench/collector"
	"userscale-bench/internal/bench/loadgen"
	"userscale-bench/internal/bench/models"
	"userscale-bench/internal/bench/replicas"
	"userscale-bench/internal/bench/storage"
	"userscale-bench/internal/bench/telemetry"
	"userscale-bench/internal/config"
)

// stubSource fonte fixa para os testes do orchestrator
type stubSource struct {
	fields map[models.Field]float64
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fields() []models.Field {
	out := make([]models.Field, 0, len(s.fields))
	for f := range s.fields {
		out = append(out, f)
	}
	return out
}

func (s *stubSource) Collect(ctx context.Context) (telemetry.Reading, error) {
	return telemetry.Reading{Fields: s.fields}, nil
}

// scaleUpFailCluster plataforma que aceita só o reset para 1 réplica e
// recusa qualquer outro apply (força o caminho de abort)
type scaleUpFailCluster struct {
	*cluster.SimCluster
}

func (f *scaleUpFailCluster) SetReplicas(ctx context.Context, deployment string, r int32) error {
	if r != 1 {
		return errors.New("forbidden: scale up rejected")
	}
	return f.SimCluster.SetReplicas(ctx, deployment, r)
}

func targetStub(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/compute", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testExperimentConfig(serviceURL, resultsDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.ServiceURL = serviceURL
	cfg.ResultsDir = resultsDir
	cfg.CampaignDuration = 300 * time.Millisecond
	cfg.BaselineTick = 50 * time.Millisecond
	cfg.GPUAwareTick = 50 * time.Millisecond
	cfg.Engine.CooldownWindow = 60 * time.Millisecond
	cfg.Replicas.ApplyBackoff = time.Millisecond
	cfg.Replicas.ApplyBackoffMax = 2 * time.Millisecond
	cfg.Load.Workers = 2
	cfg.Load.PacingInterval = 10 * time.Millisecond
	return cfg
}

func buildOrchestrator(t *testing.T, cfg *config.Config, cl cluster.Interface, fields map[models.Field]float64) *Orchestrator {
	t.Helper()

	col := collector.New([]telemetry.MetricSource{&stubSource{fields: fields}},
		&collector.Config{SourceTimeout: cfg.Collector.SourceTimeout})
	ctrl := replicas.New(cl, cfg.Deployment, &cfg.Replicas)
	load := loadgen.New(cfg.ServiceURL, &cfg.Load)
	results := storage.NewResultsStore(cfg.ResultsDir)

	return New(cfg, col, ctrl, load, results, nil)
}

func TestRunExecutesBothCampaignsSequentially(t *testing.T) {
	srv := targetStub(t)
	cfg := testExperimentConfig(srv.URL, t.TempDir())

	sim := cluster.NewSimCluster(1, nil)
	orch := buildOrchestrator(t, cfg, sim, map[models.Field]float64{
		models.FieldGPUUtil:     65,
		models.FieldGPUMem:      2048,
		models.FieldGPUTemp:     60,
		models.FieldCPUUtil:     50,
		models.FieldLatency:     150,
		models.FieldConcurrency: 4,
	})

	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.ExperimentID == "" {
		t.Error("expected experiment id")
	}
	if report.Baseline.SampleCount == 0 || report.GPUAware.SampleCount == 0 {
		t.Errorf("expected samples in both campaigns, got %d/%d",
			report.Baseline.SampleCount, report.GPUAware.SampleCount)
	}

	results := storage.NewResultsStore(cfg.ResultsDir)
	baseline, err := results.LoadCampaign(report.ExperimentID, models.ControllerBaseline)
	if err != nil {
		t.Fatalf("baseline results not saved: %v", err)
	}
	gpuAware, err := results.LoadCampaign(report.ExperimentID, models.ControllerGPUAware)
	if err != nil {
		t.Fatalf("gpu_aware results not saved: %v", err)
	}

	// Estritamente sequenciais: a segunda campanha começa depois da primeira
	if !gpuAware.StartTime.After(baseline.StartTime) {
		t.Errorf("expected gpu_aware campaign to start after baseline (%v vs %v)",
			gpuAware.StartTime, baseline.StartTime)
	}

	if _, err := results.LoadComparison(report.ExperimentID); err != nil {
		t.Errorf("comparison report not saved: %v", err)
	}
}

func TestGPUAwareScalesUpInSimulatedRun(t *testing.T) {
	srv := targetStub(t)
	cfg := testExperimentConfig(srv.URL, t.TempDir())

	sim := cluster.NewSimCluster(1, nil)
	orch := buildOrchestrator(t, cfg, sim, map[models.Field]float64{
		models.FieldGPUUtil: 90, // acima do tier alto: +3 por ação
		models.FieldLatency: 200,
	})

	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.GPUAware.ScalingEvents == 0 {
		t.Error("expected gpu_aware campaign to scale under high GPU load")
	}
	if report.GPUAware.Replicas.Max <= 1 {
		t.Errorf("expected replicas above 1, got max %d", report.GPUAware.Replicas.Max)
	}
	// Baseline não enxerga GPU: CPU ausente significa nenhum scaling
	if report.Baseline.ScalingEvents != 0 {
		t.Errorf("expected baseline to stay put without CPU signal, got %d events",
			report.Baseline.ScalingEvents)
	}
}

func TestApplyFatalAbortsCampaignKeepsPartialData(t *testing.T) {
	srv := targetStub(t)
	cfg := testExperimentConfig(srv.URL, t.TempDir())

	cl := &scaleUpFailCluster{SimCluster: cluster.NewSimCluster(1, nil)}
	orch := buildOrchestrator(t, cfg, cl, map[models.Field]float64{
		models.FieldGPUUtil: 90,
		models.FieldLatency: 200,
	})

	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("fatal apply must abort the campaign, not the experiment: %v", err)
	}

	if !report.GPUAware.Aborted {
		t.Error("expected gpu_aware campaign to be marked aborted")
	}
	if report.Baseline.Aborted {
		t.Error("expected baseline campaign to complete (it never scales)")
	}

	// Dados parciais preservados
	results := storage.NewResultsStore(cfg.ResultsDir)
	gpuAware, err := results.LoadCampaign(report.ExperimentID, models.ControllerGPUAware)
	if err != nil {
		t.Fatalf("aborted campaign results not saved: %v", err)
	}
	if !gpuAware.Aborted {
		t.Error("expected aborted flag in saved campaign")
	}
	if len(gpuAware.Samples) == 0 || len(gpuAware.Decisions) == 0 {
		t.Error("expected partial samples/decisions preserved on abort")
	}
}

func TestRunFailsWhenTargetUnhealthy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testExperimentConfig(srv.URL, t.TempDir())
	orch := buildOrchestrator(t, cfg, cluster.NewSimCluster(1, nil), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := orch.Run(ctx); err == nil {
		t.Error("expected error when target service is unhealthy")
	}
}

func TestCancelledRunAbortsWithPartialData(t *testing.T) {
	srv := targetStub(t)
	cfg := testExperimentConfig(srv.URL, t.TempDir())
	cfg.CampaignDuration = 10 * time.Second // cancel chega antes do fim

	sim := cluster.NewSimCluster(1, nil)
	orch := buildOrchestrator(t, cfg, sim, map[models.Field]float64{
		models.FieldGPUUtil: 30,
		models.FieldLatency: 100,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	if _, err := orch.Run(ctx); err == nil {
		t.Fatal("expected error on cancelled experiment")
	}

	// A campanha interrompida foi gravada como abortada
	results := storage.NewResultsStore(cfg.ResultsDir)
	ids, err := results.ListExperiments()
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected 1 experiment directory, got %v (%v)", ids, err)
	}

	baseline, err := results.LoadCampaign(ids[0], models.ControllerBaseline)
	if err != nil {
		t.Fatalf("cancelled campaign not saved: %v", err)
	}
	if !baseline.Aborted {
		t.Error("expected cancelled campaign marked aborted")
	}
}
