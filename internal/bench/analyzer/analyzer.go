package analyzer

import (
	"fmt"
	"math"
	"time"

	"userscale-bench/internal/bench/models"
)

// Aggregate calcula os agregados de uma campanha finalizada. Samples com o
// campo relevante ausente ficam fora das médias — ausência nunca vira zero,
// "GPU ociosa" e "leitura indisponível" são coisas diferentes.
func Aggregate(c *models.Campaign) models.CampaignAggregates {
	agg := models.CampaignAggregates{
		ControllerKind:    c.ControllerKind,
		GPUUtil:           fieldStats(c.Samples, models.FieldGPUUtil),
		CPUUtil:           fieldStats(c.Samples, models.FieldCPUUtil),
		Latency:           fieldStats(c.Samples, models.FieldLatency),
		Replicas:          replicaStats(c.Decisions),
		SampleCount:       len(c.Samples),
		TimeToFirstAction: -1,
		Aborted:           c.Aborted,
	}

	for _, d := range c.Decisions {
		if d.IsNoOp() {
			continue
		}
		agg.ScalingEvents++
		if agg.TimeToFirstAction < 0 {
			agg.TimeToFirstAction = d.Timestamp.Sub(c.StartTime).Seconds()
		}
	}

	// Métricas derivadas do analisador original
	if agg.Replicas.Avg > 0 {
		agg.GPUEfficiencyPerPod = agg.GPUUtil.Mean / agg.Replicas.Avg
	}
	if agg.Replicas.Max > 0 {
		agg.ScalingEfficiency = agg.Replicas.Avg / float64(agg.Replicas.Max)
	}

	return agg
}

// Compare monta o ComparisonReport a partir de duas campanhas finalizadas.
// Read-only: não toca nas campanhas de origem.
func Compare(experimentID string, baseline, gpuAware *models.Campaign) (*models.ComparisonReport, error) {
	if !baseline.Finalized() || !gpuAware.Finalized() {
		return nil, fmt.Errorf("comparison requires two finalized campaigns")
	}
	if baseline.ControllerKind != models.ControllerBaseline ||
		gpuAware.ControllerKind != models.ControllerGPUAware {
		return nil, fmt.Errorf("campaign kinds mismatch: got %s and %s",
			baseline.ControllerKind, gpuAware.ControllerKind)
	}

	b := Aggregate(baseline)
	g := Aggregate(gpuAware)

	report := &models.ComparisonReport{
		ExperimentID: experimentID,
		GeneratedAt:  time.Now(),
		Baseline:     b,
		GPUAware:     g,
		Deltas: models.ComparisonDeltas{
			AvgGPUUtil:    g.GPUUtil.Mean - b.GPUUtil.Mean,
			AvgCPUUtil:    g.CPUUtil.Mean - b.CPUUtil.Mean,
			AvgLatency:    g.Latency.Mean - b.Latency.Mean,
			AvgReplicas:   g.Replicas.Avg - b.Replicas.Avg,
			ScalingEvents: g.ScalingEvents - b.ScalingEvents,
		},
		Winners: winners(b, g),
	}

	return report, nil
}

// winners análise por métrica no estilo do analisador original
func winners(b, g models.CampaignAggregates) map[string]string {
	w := map[string]string{}

	// Maior utilização de GPU vence (o recurso caro está sendo usado)
	w["gpu_utilization"] = pick(g.GPUUtil.Mean, b.GPUUtil.Mean, false)
	// Menos réplicas médias vence (eficiência de recursos)
	w["resource_efficiency"] = pick(g.Replicas.Avg, b.Replicas.Avg, true)
	// Menor latência média vence
	w["latency"] = pick(g.Latency.Mean, b.Latency.Mean, true)
	// Mais eventos de scaling vence (responsividade)
	w["responsiveness"] = pick(float64(g.ScalingEvents), float64(b.ScalingEvents), false)
	// Maior GPU% por pod vence
	w["gpu_efficiency_per_pod"] = pick(g.GPUEfficiencyPerPod, b.GPUEfficiencyPerPod, false)

	return w
}

func pick(gpuAware, baseline float64, lowerIsBetter bool) string {
	if math.Abs(gpuAware-baseline) < 0.01 {
		return "tie"
	}
	gWins := gpuAware > baseline
	if lowerIsBetter {
		gWins = !gWins
	}
	if gWins {
		return string(models.ControllerGPUAware)
	}
	return string(models.ControllerBaseline)
}

func fieldStats(samples []models.MetricSample, field models.Field) models.FieldStats {
	stats := models.FieldStats{}
	sum := 0.0

	for i := range samples {
		v, ok := samples[i].Value(field)
		if !ok {
			continue
		}
		if stats.Count == 0 {
			stats.Min = v
			stats.Max = v
		} else {
			if v < stats.Min {
				stats.Min = v
			}
			if v > stats.Max {
				stats.Max = v
			}
		}
		sum += v
		stats.Count++
	}

	if stats.Count > 0 {
		stats.Mean = sum / float64(stats.Count)
	}
	return stats
}

func replicaStats(decisions []models.ScalingDecision) models.ReplicaStats {
	stats := models.ReplicaStats{}
	if len(decisions) == 0 {
		return stats
	}

	sum := 0.0
	stats.Min = decisions[0].ReplicasAfter
	stats.Max = decisions[0].ReplicasAfter

	for _, d := range decisions {
		r := d.ReplicasAfter
		if r < stats.Min {
			stats.Min = r
		}
		if r > stats.Max {
			stats.Max = r
		}
		sum += float64(r)
	}

	stats.Avg = sum / float64(len(decisions))
	return stats
}
