package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"userscale-bench/internal/bench/models"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func finalizedCampaign(kind models.ControllerKind, aborted bool) *models.Campaign {
	c := models.NewCampaign("c1", kind, t0, 5*time.Minute, 3*time.Second)

	s := models.MetricSample{Timestamp: t0, GPUUtilPercent: 42, LatencyMS: 100}
	s.MarkMissing(models.FieldGPUMem, models.FieldGPUTemp, models.FieldCPUUtil, models.FieldConcurrency)

	c.Record(s, models.ScalingDecision{
		Timestamp: t0, DeploymentID: "userscale-app",
		ReplicasBefore: 2, ReplicasAfter: 5, Reason: models.ReasonGPUHigh,
		TriggeringMetric: models.FieldGPUUtil,
	})
	c.Finalize(aborted)
	return c
}

func TestSaveCampaignRejectsOpenCampaign(t *testing.T) {
	store := NewResultsStore(t.TempDir())
	open := models.NewCampaign("c1", models.ControllerBaseline, t0, time.Minute, time.Second)

	if err := store.SaveCampaign("exp1", open); err == nil {
		t.Error("expected error saving unfinalized campaign")
	}
}

func TestSaveAndLoadCampaign(t *testing.T) {
	dir := t.TempDir()
	store := NewResultsStore(dir)

	c := finalizedCampaign(models.ControllerGPUAware, false)
	if err := store.SaveCampaign("exp1", c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Arquivo nomeado por controller kind
	path := filepath.Join(dir, "exp1", "gpu_aware_results.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}

	loaded, err := store.LoadCampaign("exp1", models.ControllerGPUAware)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if loaded.ID != c.ID {
		t.Errorf("expected campaign id %s, got %s", c.ID, loaded.ID)
	}
	if len(loaded.Samples) != 1 || len(loaded.Decisions) != 1 {
		t.Errorf("expected 1 sample and 1 decision, got %d/%d", len(loaded.Samples), len(loaded.Decisions))
	}
	if !loaded.Samples[0].Has(models.FieldGPUUtil) {
		t.Error("expected gpu_util present after roundtrip")
	}
	if loaded.Samples[0].Has(models.FieldCPUUtil) {
		t.Error("expected cpu_util still missing after roundtrip")
	}
	if !loaded.Finalized() {
		t.Error("expected loaded campaign to be finalized")
	}
}

func TestAbortedCampaignIsStillSaved(t *testing.T) {
	store := NewResultsStore(t.TempDir())

	c := finalizedCampaign(models.ControllerBaseline, true)
	if err := store.SaveCampaign("exp1", c); err != nil {
		t.Fatalf("aborted campaign must be saved, got %v", err)
	}

	loaded, err := store.LoadCampaign("exp1", models.ControllerBaseline)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !loaded.Aborted {
		t.Error("expected aborted flag preserved")
	}
}

func TestSaveAndLoadComparison(t *testing.T) {
	store := NewResultsStore(t.TempDir())

	report := &models.ComparisonReport{
		ExperimentID: "exp1",
		GeneratedAt:  t0,
		Winners:      map[string]string{"gpu_utilization": "gpu_aware"},
	}
	if err := store.SaveComparison(report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := store.LoadComparison("exp1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Winners["gpu_utilization"] != "gpu_aware" {
		t.Errorf("expected winners preserved, got %v", loaded.Winners)
	}
}

func TestListExperiments(t *testing.T) {
	store := NewResultsStore(t.TempDir())

	ids, err := store.ListExperiments()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no experiments, got %v", ids)
	}

	store.SaveCampaign("exp1", finalizedCampaign(models.ControllerBaseline, false))
	store.SaveCampaign("exp2", finalizedCampaign(models.ControllerGPUAware, false))

	ids, err = store.ListExperiments()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 experiments, got %v", ids)
	}
}
