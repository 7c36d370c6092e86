package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"userscale-bench/internal/bench/analyzer"
	"userscale-bench/internal/bench/models"
	"userscale-bench/internal/bench/storage"
	"userscale-bench/internal/config"
)

var analyzeList bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze [experiment-id]",
	Short: "Reprocessa e exibe resultados de experimentos gravados",
	Long: `Lê os JSONs gravados por "run" e reconstrói o relatório de comparação.
Sem argumento, usa o experimento mais recente. Com --list, só enumera os
experimentos disponíveis no diretório de resultados.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		results := storage.NewResultsStore(cfg.ResultsDir)

		ids, err := results.ListExperiments()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("no experiments found in %s", cfg.ResultsDir)
		}

		if analyzeList {
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		}

		experimentID := ids[len(ids)-1]
		if len(args) == 1 {
			experimentID = args[0]
		}

		baseline, err := results.LoadCampaign(experimentID, models.ControllerBaseline)
		if err != nil {
			return err
		}
		gpuAware, err := results.LoadCampaign(experimentID, models.ControllerGPUAware)
		if err != nil {
			return err
		}

		report, err := analyzer.Compare(experimentID, baseline, gpuAware)
		if err != nil {
			return err
		}

		printReport(report)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeList, "list", false, "Só lista os experimentos gravados")
	rootCmd.AddCommand(analyzeCmd)
}
