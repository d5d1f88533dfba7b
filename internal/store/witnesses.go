package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/proofcache"
)

var _ proofcache.Backend = (*Store)(nil)

// Get returns the committed witness for an obligation hash.
func (s *Store) Get(ctx context.Context, obligation string) (proofcache.Record, bool, error) {
	var (
		rec      proofcache.Record
		verdict  string
		evidence string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT obligation, node, witness_id, engine, engine_version, verdict, evidence
		FROM witnesses
		WHERE obligation = ?
	`, obligation).Scan(
		&rec.Obligation,
		&rec.Node,
		&rec.Witness.ID,
		&rec.Witness.Engine,
		&rec.Witness.EngineVersion,
		&verdict,
		&evidence,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return proofcache.Record{}, false, nil
	}
	if err != nil {
		return proofcache.Record{}, false, fmt.Errorf("get witness: %w", err)
	}

	rec.Witness.Obligation = rec.Obligation
	rec.Witness.Verdict = ir.Verdict(verdict)
	rec.Witness.Evidence, err = unmarshalEvidence(evidence)
	if err != nil {
		return proofcache.Record{}, false, fmt.Errorf("get witness %s: %w", ir.Short(obligation), err)
	}
	return rec, true, nil
}

// Put commits a batch of witnesses in one transaction.
// Uses ON CONFLICT(obligation) DO NOTHING - a committed witness is never
// replaced, only invalidated.
func (s *Store) Put(ctx context.Context, records []proofcache.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put witnesses: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	seq, err := nextSeq(ctx, tx, "witnesses")
	if err != nil {
		return fmt.Errorf("put witnesses: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO witnesses
		(obligation, node, witness_id, engine, engine_version, verdict, evidence, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(obligation) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("put witnesses: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		evidence, err := marshalEvidence(r.Witness.Evidence)
		if err != nil {
			return fmt.Errorf("put witnesses: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.Obligation,
			r.Node,
			r.Witness.ID,
			r.Witness.Engine,
			r.Witness.EngineVersion,
			string(r.Witness.Verdict),
			evidence,
			seq,
		); err != nil {
			return fmt.Errorf("put witnesses: insert %s: %w", ir.Short(r.Obligation), err)
		}
		seq++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put witnesses: commit: %w", err)
	}
	return nil
}

// InvalidatePrefix deletes witnesses whose obligation hash starts with prefix.
func (s *Store) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	return s.deleteWitnesses(ctx, "substr(obligation, 1, length(?1)) = ?1", prefix)
}

// InvalidateNode deletes witnesses whose context node hash starts with prefix.
func (s *Store) InvalidateNode(ctx context.Context, prefix string) (int, error) {
	return s.deleteWitnesses(ctx, "node != '' AND substr(node, 1, length(?1)) = ?1", prefix)
}

// InvalidateEngine deletes witnesses produced by engine at any version other
// than keep.
func (s *Store) InvalidateEngine(ctx context.Context, engine, keep string) (int, error) {
	return s.deleteWitnesses(ctx, "engine = ?1 AND engine_version != ?2", engine, keep)
}

func (s *Store) deleteWitnesses(ctx context.Context, where string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM witnesses WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("invalidate witnesses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("invalidate witnesses: rows affected: %w", err)
	}
	return int(n), nil
}

// CountWitnesses returns the number of committed witnesses.
func (s *Store) CountWitnesses(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM witnesses").Scan(&n); err != nil {
		return 0, fmt.Errorf("count witnesses: %w", err)
	}
	return n, nil
}
