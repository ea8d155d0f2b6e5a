package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"listing-inspector/internal/model"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS assessment_logs (
	id               BIGSERIAL PRIMARY KEY,
	analysis_id      TEXT NOT NULL,
	url              TEXT NOT NULL,
	fingerprint      TEXT NOT NULL,
	score            INTEGER NOT NULL,
	raw_score        INTEGER NOT NULL,
	level            TEXT NOT NULL,
	warnings         JSONB NOT NULL DEFAULT '[]',
	breakdown        JSONB NOT NULL DEFAULT '{}',
	response_time_ms BIGINT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_assessment_logs_fingerprint
	ON assessment_logs (fingerprint, created_at DESC);

CREATE TABLE IF NOT EXISTS image_embeddings (
	url        TEXT NOT NULL,
	model      TEXT NOT NULL,
	embedding  vector NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (url, model)
);
`

// PostgresRepository stores assessment history and cached image embeddings
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(dsn string, maxConn, maxIdleConn int) (*PostgresRepository, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(maxConn)
	db.SetMaxIdleConns(maxIdleConn)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{db: db}, nil
}

// NewPostgresRepositoryFromDB wraps an existing connection
func NewPostgresRepositoryFromDB(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// Ping checks the connection
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// EnsureSchema creates the tables used by the service if they are missing
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// LogAssessment records one analysis
func (r *PostgresRepository) LogAssessment(ctx context.Context, entry *model.AssessmentLog) error {
	query := `
		INSERT INTO assessment_logs
			(analysis_id, url, fingerprint, score, raw_score, level, warnings, breakdown, response_time_ms)
		VALUES
			(:analysis_id, :url, :fingerprint, :score, :raw_score, :level, :warnings, :breakdown, :response_time_ms)
	`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to log assessment: %w", err)
	}
	return nil
}

// ListAssessments returns the newest analyses for a listing fingerprint
func (r *PostgresRepository) ListAssessments(ctx context.Context, fingerprint string, limit int) ([]model.AssessmentLog, error) {
	query := `
		SELECT
			id, analysis_id, url, fingerprint, score, raw_score, level,
			warnings, breakdown, response_time_ms, created_at
		FROM assessment_logs
		WHERE fingerprint = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	logs := []model.AssessmentLog{}
	if err := r.db.SelectContext(ctx, &logs, query, fingerprint, limit); err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	return logs, nil
}

// GetImageEmbedding returns the cached vector for an image, if any
func (r *PostgresRepository) GetImageEmbedding(ctx context.Context, imageURL, modelName string) ([]float32, bool, error) {
	var vec pgvector.Vector
	query := `SELECT embedding FROM image_embeddings WHERE url = $1 AND model = $2`
	err := r.db.GetContext(ctx, &vec, query, imageURL, modelName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get embedding: %w", err)
	}
	return vec.Slice(), true, nil
}

// SaveImageEmbedding upserts the vector for an image
func (r *PostgresRepository) SaveImageEmbedding(ctx context.Context, imageURL, modelName string, embedding []float32) error {
	query := `
		INSERT INTO image_embeddings (url, model, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (url, model) DO UPDATE SET embedding = EXCLUDED.embedding, created_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, imageURL, modelName, pgvector.NewVector(embedding)); err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}
