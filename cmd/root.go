package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	kubecontext string
	debug       bool
	simulate    bool
)

var rootCmd = &cobra.Command{
	Use:   "userscale-bench",
	Short: "GPU-aware autoscaler benchmark harness for Kubernetes",
	Long: `userscale-bench compara dois autoscalers contra o mesmo workload de
inferência em GPU: o controller custom dirigido por GPU/latência/concorrência
e o baseline proporcional dirigido por CPU (estilo HPA).

O experimento roda duas campanhas cronometradas em sequência — baseline
primeiro, depois o scaler custom — sob carga sintética idêntica, e grava
resultados por campanha mais um relatório de comparação em JSON.

Comandos:
  run      Executa o experimento completo (duas campanhas + comparação)
  analyze  Reprocessa e exibe resultados de experimentos gravados
  serve    Sobe o serviço alvo simulado (para rodar sem cluster/GPU)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if debug {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&kubecontext, "kubecontext", "", "Contexto do kubeconfig (default: contexto corrente)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Habilita logs de debug")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Modo simulado: sem cluster nem GPU reais")
}
