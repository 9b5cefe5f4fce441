package repository

import (
	"context"
	"fmt"

	"assetstore/extractor/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RecordSink mirrors written records into an external store.
type RecordSink interface {
	Upsert(ctx context.Context, record domain.AssetRecord) error
}

type postgresSink struct {
	db *pgxpool.Pool
}

func NewPostgresSink(db *pgxpool.Pool) RecordSink {
	return &postgresSink{
		db: db,
	}
}

// EnsureSchema creates the asset_records table when it is missing.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	query := `
	CREATE TABLE IF NOT EXISTS asset_records (
		source_file TEXT PRIMARY KEY,
		asset_id    TEXT,
		data        JSONB NOT NULL,
		updated_at  TEXT NOT NULL
	)`
	if _, err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create asset_records table: %w", err)
	}
	return nil
}

func (s *postgresSink) Upsert(ctx context.Context, record domain.AssetRecord) error {
	content, err := EncodeRecord(record)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO asset_records (source_file, asset_id, data, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (source_file)
	DO UPDATE SET asset_id = $2, data = $3, updated_at = $4`
	_, err = s.db.Exec(ctx, query, record.SourceFile, record.AssetID, string(content), record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save asset record: %w", err)
	}

	return nil
}
