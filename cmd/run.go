package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"userscale-bench/internal/bench/cluster"
	"userscale-bench/internal/bench/collector"
	"userscale-bench/internal/bench/loadgen"
	"userscale-bench/internal/bench/models"
	"userscale-bench/internal/bench/orchestrator"
	"userscale-bench/internal/bench/replicas"
	"userscale-bench/internal/bench/storage"
	"userscale-bench/internal/bench/telemetry"
	"userscale-bench/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Executa o experimento completo (baseline + gpu-aware + comparação)",
	Long: `Roda as duas campanhas em sequência contra o deployment alvo, sob carga
sintética idêntica, e grava os resultados em <results>/<experiment-id>/.

A configuração vem de variáveis de ambiente (NAMESPACE, DEPLOYMENT,
MIN_REPLICAS, MAX_REPLICAS, SYNC_PERIOD, GPU_HIGH, ...) com defaults
documentados. Com --simulate não é preciso cluster nem GPU: suba antes o
serviço alvo com "userscale-bench serve".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		if simulate {
			cfg.SimulateTelemetry = true
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cl, sources, err := buildPlatform(ctx, cfg)
		if err != nil {
			return err
		}

		col := collector.New(sources, &collector.Config{SourceTimeout: cfg.Collector.SourceTimeout})
		ctrl := replicas.New(cl, cfg.Deployment, &cfg.Replicas)
		load := loadgen.New(cfg.ServiceURL, &cfg.Load)
		results := storage.NewResultsStore(cfg.ResultsDir)

		var history *storage.History
		if cfg.HistoryDB != "" {
			history, err = storage.NewHistory(&storage.HistoryConfig{Enabled: true, DBPath: cfg.HistoryDB})
			if err != nil {
				return err
			}
			defer history.Close()
		}

		orch := orchestrator.New(cfg, col, ctrl, load, results, history)

		report, err := orch.Run(ctx)
		if err != nil {
			return err
		}

		printReport(report)
		return nil
	},
}

// buildPlatform monta cluster e fontes de telemetria conforme o modo.
// A ordem das fontes define precedência: nvidia-smi antes das métricas do
// app, Prometheus por último.
func buildPlatform(ctx context.Context, cfg *config.Config) (cluster.Interface, []telemetry.MetricSource, error) {
	if cfg.SimulateTelemetry {
		endpoint := fmt.Sprintf("%s/metrics", cfg.ServiceURL)
		sim := cluster.NewSimCluster(cfg.BaselineReplicas, []string{endpoint})

		// O app simulado vem primeiro; a fonte sintética cobre o que ele não
		// reporta (CPU para o baseline, temperatura)
		sources := []telemetry.MetricSource{
			telemetry.NewAppSource(telemetry.StaticEndpoints{endpoint}, cfg.Collector.SourceTimeout),
			telemetry.NewSimSource(),
		}

		log.Info().Str("endpoint", endpoint).Msg("Simulated platform: in-memory replicas, local target service")
		return sim, sources, nil
	}

	k8s, err := cluster.NewK8sClient(kubecontext, cfg.Namespace, cfg.ServiceName, cfg.AppPort)
	if err != nil {
		return nil, nil, err
	}
	if err := k8s.TestConnection(ctx); err != nil {
		return nil, nil, err
	}

	sources := []telemetry.MetricSource{
		telemetry.NewGPUSource(cfg.GPUDeviceIndex),
		telemetry.NewAppSource(k8s, cfg.Collector.SourceTimeout),
	}

	if cfg.PrometheusEndpoint != "" {
		cpu, err := telemetry.NewCPUSource(cfg.PrometheusEndpoint, cfg.Namespace, cfg.ServiceName)
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, cpu)
	}

	return k8s, sources, nil
}

func printReport(r *models.ComparisonReport) {
	fmt.Printf("\nExperimento %s\n", r.ExperimentID)
	fmt.Printf("%-24s %12s %12s %12s\n", "métrica", "baseline", "gpu_aware", "delta")
	fmt.Printf("%-24s %12.1f %12.1f %+12.1f\n", "gpu_util média (%)",
		r.Baseline.GPUUtil.Mean, r.GPUAware.GPUUtil.Mean, r.Deltas.AvgGPUUtil)
	fmt.Printf("%-24s %12.1f %12.1f %+12.1f\n", "latência média (ms)",
		r.Baseline.Latency.Mean, r.GPUAware.Latency.Mean, r.Deltas.AvgLatency)
	fmt.Printf("%-24s %12.1f %12.1f %+12.1f\n", "réplicas médias",
		r.Baseline.Replicas.Avg, r.GPUAware.Replicas.Avg, r.Deltas.AvgReplicas)
	fmt.Printf("%-24s %12d %12d %+12d\n", "eventos de scaling",
		r.Baseline.ScalingEvents, r.GPUAware.ScalingEvents, r.Deltas.ScalingEvents)

	fmt.Println("\nVencedores por métrica:")
	for metric, winner := range r.Winners {
		fmt.Printf("  %-24s %s\n", metric, winner)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
}
