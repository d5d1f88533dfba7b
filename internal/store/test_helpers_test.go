package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/proofcache"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates a witness record with minimal required fields.
func createTestRecord(t *testing.T, obligation, node, engine, version string) proofcache.Record {
	t.Helper()
	w, err := ir.NewWitness(obligation, engine, version, ir.VerdictProven, ir.IRObject{
		"method": ir.IRString("interval"),
		"range":  ir.IRArray{ir.IRInt(1), ir.IRInt(9007199254740993)},
	})
	if err != nil {
		t.Fatalf("NewWitness() failed: %v", err)
	}
	return proofcache.Record{Obligation: obligation, Node: node, Witness: w}
}

// createTestReport creates a report with minimal required fields.
func createTestReport(runID, graphHash string) ir.Report {
	return ir.Report{
		RunID:     runID,
		Outcome:   ir.OutcomeMaterialized,
		Target:    "stm32f407",
		Profile:   "deterministic-timing",
		Rigor:     "integration",
		GraphHash: graphHash,
		Generator: "kiln test",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// verifyPragma checks that a pragma reads back as expected.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
