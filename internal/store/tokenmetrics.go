package store

import (
	"context"
	"fmt"
	"time"
)

var tokenMetricsSchemaStmts = []string{
	`CREATE TABLE IF NOT EXISTS token_savings_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		proposed_tool TEXT NOT NULL,
		estimated_savings INTEGER NOT NULL,
		file_bucket TEXT NOT NULL,
		timestamp_ms INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_token_metrics_timestamp ON token_savings_metrics(timestamp_ms);`,
}

// FileBucket is the closed set of LOC-based size classes.
type FileBucket string

const (
	BucketSmall  FileBucket = "small"  // < 300 LOC
	BucketMedium FileBucket = "medium" // 300-600 LOC
	BucketLarge  FileBucket = "large"  // 601-1000 LOC
	BucketXLarge FileBucket = "xlarge" // > 1000 LOC
)

// ClassifyLOC maps a line count onto its FileBucket.
func ClassifyLOC(lines int) FileBucket {
	switch {
	case lines < 300:
		return BucketSmall
	case lines <= 600:
		return BucketMedium
	case lines <= 1000:
		return BucketLarge
	default:
		return BucketXLarge
	}
}

// TokenSavingsMetric is one per-suggestion reporting record: the tool that
// would have been cheaper and by roughly how many provider tokens.
type TokenSavingsMetric struct {
	ProposedTool     string
	EstimatedSavings int64
	FileBucket       FileBucket
	TimestampMs      int64
}

// TokenMetricsStore is the reporting-only token-savings table.
type TokenMetricsStore struct {
	db *DB
}

func OpenTokenMetricsStore(path string) (*TokenMetricsStore, error) {
	db, err := Open(path, tokenMetricsSchemaStmts)
	if err != nil {
		return nil, err
	}
	return &TokenMetricsStore{db: db}, nil
}

func (s *TokenMetricsStore) Close() error { return s.db.Close() }

func (s *TokenMetricsStore) Record(ctx context.Context, m TokenSavingsMetric) error {
	if m.TimestampMs == 0 {
		m.TimestampMs = time.Now().UnixMilli()
	}
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO token_savings_metrics (proposed_tool, estimated_savings, file_bucket, timestamp_ms)
		 VALUES (?, ?, ?, ?)`,
		m.ProposedTool, m.EstimatedSavings, string(m.FileBucket), m.TimestampMs)
	if err != nil {
		return fmt.Errorf("token metrics: insert: %w", err)
	}
	return nil
}

// TotalSavings sums EstimatedSavings across all recorded metrics, for a
// quick reporting rollup.
func (s *TokenMetricsStore) TotalSavings(ctx context.Context) (int64, error) {
	var total int64
	row := s.db.Conn().QueryRowContext(ctx, `SELECT COALESCE(SUM(estimated_savings), 0) FROM token_savings_metrics`)
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("token metrics: total savings: %w", err)
	}
	return total, nil
}
