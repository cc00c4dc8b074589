package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/Ingesta/internal/config"
	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/models"
)

// PgVectorIndex stores chunk vectors in Postgres with the pgvector
// extension. chunk_id is the primary key, so replaying a batch overwrites
// rather than duplicates.
type PgVectorIndex struct {
	db *sql.DB
}

func NewPgVectorIndex(ctx context.Context, cfg *config.Config) (core.VectorIndex, error) {
	if cfg == nil {
		return nil, fmt.Errorf("index configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for a background worker; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &PgVectorIndex{db: db}, nil
}

func (c *PgVectorIndex) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// UpsertBatch writes all records for one document in a single transaction:
// either the whole batch commits or nothing is visible. Conflicting chunk
// IDs are overwritten in place.
func (c *PgVectorIndex) UpsertBatch(ctx context.Context, records []models.UpsertRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return &core.IndexWriteError{Err: err}
	}

	const q = `
		INSERT INTO chunk_embeddings
			(chunk_id, source_ref, page, start_offset, end_offset, text, embedding, model_version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (chunk_id) DO UPDATE SET
			source_ref    = EXCLUDED.source_ref,
			page          = EXCLUDED.page,
			start_offset  = EXCLUDED.start_offset,
			end_offset    = EXCLUDED.end_offset,
			text          = EXCLUDED.text,
			embedding     = EXCLUDED.embedding,
			model_version = EXCLUDED.model_version,
			updated_at    = now()
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return &core.IndexWriteError{Err: err}
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		vec := pgvector.NewVector(r.Vector)
		if _, err := stmt.ExecContext(ctx,
			r.ChunkID, r.SourceRef, r.Page, r.StartOffset, r.EndOffset, r.Text, vec, r.ModelVer,
		); err != nil {
			_ = tx.Rollback()
			return &core.IndexWriteError{Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &core.IndexWriteError{Err: err}
	}
	return nil
}
