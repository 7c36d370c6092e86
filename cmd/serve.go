package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"userscale-bench/internal/target"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Sobe o serviço alvo simulado",
	Long: `Serviço HTTP que imita a aplicação de inferência: /compute queima tempo
proporcional ao size e à concorrência, /metrics expõe o snapshot no formato
do collector e /healthz responde o gate de saúde do experimento.

Combinado com "run --simulate", permite exercitar o harness completo numa
máquina sem GPU nem cluster.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return target.NewServer(servePort, debug).Run(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8001, "Porta do serviço alvo")
	rootCmd.AddCommand(serveCmd)
}
