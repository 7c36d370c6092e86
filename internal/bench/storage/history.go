package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"userscale-bench/internal/bench/models"
)

// HistoryConfig configuração do histórico de experimentos
type HistoryConfig struct {
	Enabled bool   // Habilita persistência
	DBPath  string // Caminho do banco SQLite
}

// DefaultHistoryConfig retorna configuração padrão
func DefaultHistoryConfig() *HistoryConfig {
	homeDir, _ := os.UserHomeDir()
	return &HistoryConfig{
		Enabled: true,
		DBPath:  filepath.Join(homeDir, ".userscale-bench", "history.db"),
	}
}

// History persiste experimentos, campanhas e decisões em SQLite para
// consulta entre execuções. Desligado, todos os métodos viram no-op.
type History struct {
	config *HistoryConfig
	db     *sql.DB
}

// NewHistory abre (ou cria) o banco de histórico
func NewHistory(config *HistoryConfig) (*History, error) {
	if config == nil {
		config = DefaultHistoryConfig()
	}

	if !config.Enabled {
		log.Info().Msg("Experiment history disabled")
		return &History{config: config}, nil
	}

	dir := filepath.Dir(config.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite funciona melhor com 1 conexão
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	h := &History{config: config, db: db}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().
		Str("db_path", config.DBPath).
		Msg("Experiment history initialized")

	return h, nil
}

// initSchema cria tabelas se não existirem
func (h *History) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS experiments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		experiment_id TEXT NOT NULL UNIQUE,
		namespace TEXT NOT NULL,
		deployment TEXT NOT NULL,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		status TEXT NOT NULL,           -- running | completed | aborted
		comparison_data TEXT,           -- JSON do ComparisonReport
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_experiments_id ON experiments(experiment_id);
	CREATE INDEX IF NOT EXISTS idx_experiments_start ON experiments(start_time);

	CREATE TABLE IF NOT EXISTS campaigns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		campaign_id TEXT NOT NULL UNIQUE,
		experiment_id TEXT NOT NULL,
		controller_kind TEXT NOT NULL,  -- baseline | gpu_aware
		start_time DATETIME NOT NULL,
		duration_seconds INTEGER,
		aborted INTEGER NOT NULL DEFAULT 0,

		-- Agregados para consulta rápida
		sample_count INTEGER,
		scaling_events INTEGER,
		avg_gpu_util REAL,
		avg_latency_ms REAL,
		avg_replicas REAL,

		campaign_data TEXT NOT NULL,    -- JSON completo da Campaign

		FOREIGN KEY (experiment_id) REFERENCES experiments(experiment_id)
	);

	CREATE INDEX IF NOT EXISTS idx_campaigns_experiment ON campaigns(experiment_id);
	CREATE INDEX IF NOT EXISTS idx_campaigns_kind ON campaigns(controller_kind);

	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		campaign_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		deployment_id TEXT NOT NULL,
		replicas_before INTEGER NOT NULL,
		replicas_after INTEGER NOT NULL,
		reason_code TEXT NOT NULL,
		triggering_metric TEXT,

		FOREIGN KEY (campaign_id) REFERENCES campaigns(campaign_id)
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_campaign ON decisions(campaign_id);
	CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(timestamp);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	_, err := h.db.Exec(`
		INSERT OR REPLACE INTO metadata (key, value, updated_at)
		VALUES ('schema_version', '1', CURRENT_TIMESTAMP)
	`)
	return err
}

// StartExperiment registra o início de um experimento
func (h *History) StartExperiment(experimentID, namespace, deployment string, start time.Time) error {
	if !h.config.Enabled || h.db == nil {
		return nil
	}

	_, err := h.db.Exec(`
		INSERT OR IGNORE INTO experiments (experiment_id, namespace, deployment, start_time, status)
		VALUES (?, ?, ?, ?, 'running')
	`, experimentID, namespace, deployment, start)
	if err != nil {
		return fmt.Errorf("failed to record experiment start: %w", err)
	}
	return nil
}

// FinishExperiment fecha o experimento com o relatório de comparação.
// report pode ser nil quando o experimento abortou antes de comparar.
func (h *History) FinishExperiment(experimentID string, report *models.ComparisonReport, aborted bool) error {
	if !h.config.Enabled || h.db == nil {
		return nil
	}

	status := "completed"
	if aborted {
		status = "aborted"
	}

	var reportJSON []byte
	if report != nil {
		var err error
		reportJSON, err = json.Marshal(report)
		if err != nil {
			return fmt.Errorf("failed to marshal comparison report: %w", err)
		}
	}

	_, err := h.db.Exec(`
		UPDATE experiments
		SET end_time = ?, status = ?, comparison_data = ?
		WHERE experiment_id = ?
	`, time.Now(), status, string(reportJSON), experimentID)
	if err != nil {
		return fmt.Errorf("failed to record experiment finish: %w", err)
	}

	log.Debug().
		Str("experiment_id", experimentID).
		Str("status", status).
		Msg("Experiment recorded in history")

	return nil
}

// SaveCampaign grava uma campanha finalizada com agregados e decisões
func (h *History) SaveCampaign(experimentID string, c *models.Campaign, agg models.CampaignAggregates) error {
	if !h.config.Enabled || h.db == nil {
		return nil
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign: %w", err)
	}

	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR IGNORE INTO campaigns (
			campaign_id, experiment_id, controller_kind, start_time,
			duration_seconds, aborted, sample_count, scaling_events,
			avg_gpu_util, avg_latency_ms, avg_replicas, campaign_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, experimentID, string(c.ControllerKind), c.StartTime,
		int(c.Duration.Seconds()), boolToInt(c.Aborted),
		agg.SampleCount, agg.ScalingEvents,
		agg.GPUUtil.Mean, agg.Latency.Mean, agg.Replicas.Avg,
		string(data))
	if err != nil {
		return fmt.Errorf("failed to save campaign: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO decisions (
			campaign_id, timestamp, deployment_id,
			replicas_before, replicas_after, reason_code, triggering_metric
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range c.Decisions {
		_, err = stmt.Exec(c.ID, d.Timestamp, d.DeploymentID,
			d.ReplicasBefore, d.ReplicasAfter, string(d.Reason), string(d.TriggeringMetric))
		if err != nil {
			log.Warn().Err(err).
				Str("campaign_id", c.ID).
				Msg("Failed to insert decision, skipping")
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Debug().
		Str("campaign_id", c.ID).
		Int("decisions", len(c.Decisions)).
		Msg("Campaign saved to history")

	return nil
}

// ExperimentSummary linha resumida de um experimento no histórico
type ExperimentSummary struct {
	ExperimentID string
	Namespace    string
	Deployment   string
	StartTime    time.Time
	Status       string
}

// ListExperiments lista os experimentos mais recentes
func (h *History) ListExperiments(limit int) ([]ExperimentSummary, error) {
	if !h.config.Enabled || h.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := h.db.Query(`
		SELECT experiment_id, namespace, deployment, start_time, status
		FROM experiments
		ORDER BY start_time DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiments: %w", err)
	}
	defer rows.Close()

	var out []ExperimentSummary
	for rows.Next() {
		var s ExperimentSummary
		if err := rows.Scan(&s.ExperimentID, &s.Namespace, &s.Deployment, &s.StartTime, &s.Status); err != nil {
			log.Warn().Err(err).Msg("Failed to scan experiment row")
			continue
		}
		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating experiments: %w", err)
	}
	return out, nil
}

// LoadComparison recupera o relatório gravado de um experimento
func (h *History) LoadComparison(experimentID string) (*models.ComparisonReport, error) {
	if !h.config.Enabled || h.db == nil {
		return nil, fmt.Errorf("history not enabled")
	}

	var data sql.NullString
	err := h.db.QueryRow(`
		SELECT comparison_data FROM experiments WHERE experiment_id = ?
	`, experimentID).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("failed to load comparison: %w", err)
	}
	if !data.Valid || data.String == "" {
		return nil, fmt.Errorf("experiment %s has no comparison report", experimentID)
	}

	var report models.ComparisonReport
	if err := json.Unmarshal([]byte(data.String), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal comparison: %w", err)
	}
	return &report, nil
}

// Close fecha conexão com banco
func (h *History) Close() error {
	if h.db != nil {
		log.Info().Msg("Closing history database")
		return h.db.Close()
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
