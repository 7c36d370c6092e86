package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"userscale-bench/internal/bench/models"
)

// ResultsStore escreve os artefatos JSON de um experimento em
// <results_dir>/<experiment_id>/. Um arquivo por campanha mais o relatório
// de comparação.
type ResultsStore struct {
	baseDir string
}

// NewResultsStore cria store apontando para o diretório base de resultados
func NewResultsStore(baseDir string) *ResultsStore {
	return &ResultsStore{baseDir: baseDir}
}

// ExperimentDir retorna (criando se preciso) o diretório de um experimento
func (r *ResultsStore) ExperimentDir(experimentID string) (string, error) {
	dir := filepath.Join(r.baseDir, experimentID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}
	return dir, nil
}

// SaveCampaign escreve <kind>_results.json para uma campanha finalizada.
// Campanhas abortadas também são gravadas — dados parciais valem o disco.
func (r *ResultsStore) SaveCampaign(experimentID string, c *models.Campaign) error {
	if !c.Finalized() {
		return fmt.Errorf("campaign %s not finalized", c.ID)
	}

	dir, err := r.ExperimentDir(experimentID)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_results.json", c.ControllerKind))
	if err := writeJSON(path, c); err != nil {
		return err
	}

	log.Info().
		Str("experiment_id", experimentID).
		Str("controller", string(c.ControllerKind)).
		Int("samples", len(c.Samples)).
		Bool("aborted", c.Aborted).
		Str("path", path).
		Msg("Campaign results saved")

	return nil
}

// SaveComparison escreve comparison.json com o relatório final
func (r *ResultsStore) SaveComparison(report *models.ComparisonReport) error {
	dir, err := r.ExperimentDir(report.ExperimentID)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, "comparison.json")
	if err := writeJSON(path, report); err != nil {
		return err
	}

	log.Info().
		Str("experiment_id", report.ExperimentID).
		Str("path", path).
		Msg("Comparison report saved")

	return nil
}

// LoadCampaign lê de volta o resultado de uma campanha gravada
func (r *ResultsStore) LoadCampaign(experimentID string, kind models.ControllerKind) (*models.Campaign, error) {
	path := filepath.Join(r.baseDir, experimentID, fmt.Sprintf("%s_results.json", kind))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign results: %w", err)
	}

	var c models.Campaign
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign results: %w", err)
	}

	// Uma campanha vinda do disco já está fechada
	c.Finalize(c.Aborted)
	return &c, nil
}

// LoadComparison lê o relatório de comparação de um experimento
func (r *ResultsStore) LoadComparison(experimentID string) (*models.ComparisonReport, error) {
	path := filepath.Join(r.baseDir, experimentID, "comparison.json")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read comparison report: %w", err)
	}

	var report models.ComparisonReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal comparison report: %w", err)
	}
	return &report, nil
}

// ListExperiments lista os IDs de experimento presentes no diretório base
func (r *ResultsStore) ListExperiments() ([]string, error) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list results directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	// Escrita atômica: temp + rename evita relatório meio escrito
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
