package telemetry

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"userscale-bench/internal/bench/models"
)

// gpuQueryFields colunas pedidas ao nvidia-smi, na ordem
const gpuQueryFields = "utilization.gpu,memory.used,temperature.gpu"

// GPUSource telemetria de device via nvidia-smi (utilização, memória usada,
// temperatura). Retorna ErrGPUUnavailable quando não há device presente.
type GPUSource struct {
	deviceIndex int

	// runQuery permite injetar o comando em testes
	runQuery func(ctx context.Context, index int) (string, error)
}

// NewGPUSource cria fonte para um device específico
func NewGPUSource(deviceIndex int) *GPUSource {
	return &GPUSource{
		deviceIndex: deviceIndex,
		runQuery:    runNvidiaSMI,
	}
}

func (g *GPUSource) Name() string { return "gpu" }

func (g *GPUSource) Fields() []models.Field {
	return []models.Field{models.FieldGPUUtil, models.FieldGPUMem, models.FieldGPUTemp}
}

// Collect consulta o device. Saída esperada: "35, 1024, 61"
func (g *GPUSource) Collect(ctx context.Context) (Reading, error) {
	out, err := g.runQuery(ctx, g.deviceIndex)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrGPUUnavailable, err)
	}

	parts := strings.Split(strings.TrimSpace(out), ",")
	if len(parts) < 3 {
		return Reading{}, fmt.Errorf("%w: unexpected nvidia-smi output %q", ErrGPUUnavailable, out)
	}

	util, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: bad utilization value %q", ErrGPUUnavailable, parts[0])
	}
	memMB, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: bad memory value %q", ErrGPUUnavailable, parts[1])
	}
	temp, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: bad temperature value %q", ErrGPUUnavailable, parts[2])
	}

	log.Debug().
		Int("device", g.deviceIndex).
		Float64("gpu_util", util).
		Float64("gpu_mem_mb", memMB).
		Msg("GPU telemetry collected")

	return Reading{Fields: map[models.Field]float64{
		models.FieldGPUUtil: util,
		models.FieldGPUMem:  memMB,
		models.FieldGPUTemp: temp,
	}}, nil
}

func runNvidiaSMI(ctx context.Context, index int) (string, error) {
	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu="+gpuQueryFields,
		"--format=csv,noheader,nounits",
		"--id="+strconv.Itoa(index),
	)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
