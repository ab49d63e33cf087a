// Package audit implements the audit store: an append-only, SQLite-backed
// log of every permission decision, indexed for the query shapes the
// permission manager and its reporting tools need.
package audit

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/githubnext/gh-aw-core/internal/store"
)

var schemaStmts = []string{
	`CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		timestamp_ms INTEGER NOT NULL,
		workflow_name TEXT NOT NULL,
		workflow_id TEXT,
		autonomy_level TEXT NOT NULL,
		operation TEXT NOT NULL,
		target TEXT NOT NULL,
		approved INTEGER NOT NULL,
		executed_by TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error_message TEXT,
		metadata TEXT NOT NULL DEFAULT '{}'
	);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries(timestamp_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_workflow_name ON audit_entries(workflow_name);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_autonomy_level ON audit_entries(autonomy_level);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_operation ON audit_entries(operation);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_outcome ON audit_entries(outcome);`,
}

// Entry is one immutable audit record.
type Entry struct {
	ID            string
	TimestampMs   int64
	WorkflowName  string
	WorkflowID    string
	AutonomyLevel string
	Operation     string
	Target        string
	Approved      bool
	ExecutedBy    string
	Outcome       string
	ErrorMessage  string
	Metadata      map[string]any
}

// Store is the append-only audit table.
type Store struct {
	db *store.DB
}

// Open opens (creating if necessary) the audit database at path.
func Open(path string) (*Store, error) {
	db, err := store.Open(path, schemaStmts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Append writes one entry. Callers normally go through the bounded async
// queue in Writer rather than calling this directly.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("audit: marshal metadata: %w", err)
	}
	_, err = s.db.Conn().ExecContext(ctx,
		`INSERT INTO audit_entries
			(id, timestamp_ms, workflow_name, workflow_id, autonomy_level, operation, target, approved, executed_by, outcome, error_message, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TimestampMs, e.WorkflowName, nullableString(e.WorkflowID), e.AutonomyLevel, e.Operation, e.Target,
		boolToInt(e.Approved), e.ExecutedBy, e.Outcome, nullableString(e.ErrorMessage), string(metaJSON))
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// Filter selects a subset of entries. Zero values mean "no constraint" on
// that field; a zero Limit means unlimited.
type Filter struct {
	WorkflowName  string
	AutonomyLevel string
	Operation     string
	Outcome       string
	Since         time.Time
	Until         time.Time
	Limit         int
}

// Query returns matching entries, newest-first.
func (s *Store) Query(ctx context.Context, f Filter) ([]Entry, error) {
	clauses := []string{"1=1"}
	var args []any

	if f.WorkflowName != "" {
		clauses = append(clauses, "workflow_name = ?")
		args = append(args, f.WorkflowName)
	}
	if f.AutonomyLevel != "" {
		clauses = append(clauses, "autonomy_level = ?")
		args = append(args, f.AutonomyLevel)
	}
	if f.Operation != "" {
		clauses = append(clauses, "operation = ?")
		args = append(args, f.Operation)
	}
	if f.Outcome != "" {
		clauses = append(clauses, "outcome = ?")
		args = append(args, f.Outcome)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "timestamp_ms >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "timestamp_ms <= ?")
		args = append(args, f.Until.UnixMilli())
	}

	q := fmt.Sprintf(`SELECT id, timestamp_ms, workflow_name, workflow_id, autonomy_level, operation, target, approved, executed_by, outcome, error_message, metadata
		FROM audit_entries WHERE %s ORDER BY timestamp_ms DESC`, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.Conn().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var workflowID, errMsg sql.NullString
		var approved int
		var metaJSON string
		if err := rows.Scan(&e.ID, &e.TimestampMs, &e.WorkflowName, &workflowID, &e.AutonomyLevel,
			&e.Operation, &e.Target, &approved, &e.ExecutedBy, &e.Outcome, &errMsg, &metaJSON); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		e.WorkflowID = workflowID.String
		e.ErrorMessage = errMsg.String
		e.Approved = approved != 0
		_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than olderThanDays and returns the count deleted.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).UnixMilli()
	res, err := s.db.Conn().ExecContext(ctx, `DELETE FROM audit_entries WHERE timestamp_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("audit: cleanup rows affected: %w", err)
	}
	return n, nil
}

// ExportJSON renders entries as a JSON array.
func ExportJSON(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}

// ExportCSV renders entries as CSV with a header row.
func ExportCSV(entries []Entry) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	header := []string{"id", "timestamp_ms", "workflow_name", "workflow_id", "autonomy_level", "operation", "target", "approved", "executed_by", "outcome", "error_message"}
	if err := w.Write(header); err != nil {
		return "", err
	}
	for _, e := range entries {
		row := []string{e.ID, fmt.Sprintf("%d", e.TimestampMs), e.WorkflowName, e.WorkflowID, e.AutonomyLevel,
			e.Operation, e.Target, fmt.Sprintf("%t", e.Approved), e.ExecutedBy, e.Outcome, e.ErrorMessage}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return sb.String(), w.Error()
}

// ExportHTML renders a self-contained report with aggregate counts.
func ExportHTML(entries []Entry) string {
	var approved, denied, success, failure int
	for _, e := range entries {
		if e.Approved {
			approved++
		} else {
			denied++
		}
		switch e.Outcome {
		case "success":
			success++
		case "failure":
			failure++
		}
	}

	var rows strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&rows, "<tr><td>%s</td><td>%d</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%t</td><td>%s</td></tr>\n",
			html.EscapeString(e.ID), e.TimestampMs, html.EscapeString(e.WorkflowName), html.EscapeString(e.AutonomyLevel),
			html.EscapeString(e.Operation), html.EscapeString(e.Target), e.Approved, html.EscapeString(e.Outcome))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Audit Report</title></head>
<body>
<h1>Audit Report</h1>
<p>Total: %d &middot; Approved: %d &middot; Denied: %d &middot; Success: %d &middot; Failure: %d</p>
<table border="1" cellspacing="0" cellpadding="4">
<tr><th>ID</th><th>Timestamp</th><th>Workflow</th><th>Autonomy</th><th>Operation</th><th>Target</th><th>Approved</th><th>Outcome</th></tr>
%s
</table>
</body></html>`, len(entries), approved, denied, success, failure, rows.String())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
