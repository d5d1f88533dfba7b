package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/kiln/internal/ir"
)

// ErrReportExists is returned when a report for the run is already stored.
var ErrReportExists = errors.New("report already recorded")

// ErrReportNotFound is returned when no report matches a run ID.
var ErrReportNotFound = errors.New("report not found")

// AppendReport records a materialization report.
// Reports are append-only: a second report for the same run ID fails with
// ErrReportExists, and the schema rejects UPDATE and DELETE outright.
func (s *Store) AppendReport(ctx context.Context, r ir.Report) error {
	body, err := marshalReport(r)
	if err != nil {
		return fmt.Errorf("append report: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reports
		(run_id, outcome, graph_hash, target, profile, rigor, created_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		r.RunID,
		r.Outcome,
		r.GraphHash,
		r.Target,
		r.Profile,
		r.Rigor,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		body,
	)
	if err != nil {
		return fmt.Errorf("append report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append report: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("append report %s: %w", r.RunID, ErrReportExists)
	}
	return nil
}

// ReadReport returns the report for one run.
func (s *Store) ReadReport(ctx context.Context, runID string) (ir.Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM reports WHERE run_id = ?
	`, runID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Report{}, fmt.Errorf("read report %s: %w", runID, ErrReportNotFound)
	}
	if err != nil {
		return ir.Report{}, fmt.Errorf("read report: %w", err)
	}
	return unmarshalReport(body)
}

// ReadReports returns reports in append order. A non-empty graphHash
// restricts the result to runs of that graph; limit <= 0 returns all.
func (s *Store) ReadReports(ctx context.Context, graphHash string, limit int) ([]ir.Report, error) {
	query := "SELECT body FROM reports"
	var args []any
	if graphHash != "" {
		query += " WHERE graph_hash = ?"
		args = append(args, graphHash)
	}
	query += " ORDER BY seq ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read reports: %w", err)
	}
	defer rows.Close()

	var out []ir.Report
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("read reports: scan: %w", err)
		}
		r, err := unmarshalReport(body)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read reports: %w", err)
	}
	return out, nil
}
