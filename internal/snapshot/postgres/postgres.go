// Package postgres implements snapshot.Store over a Postgres (or
// Postgres-compatible) database via lib/pq, for deployments that already
// run a shared Postgres instance and want the Snapshot Store to live
// alongside their other durable state rather than in a local SQLite
// file.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/lib/pq"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// Store persists Snapshot Records to a Postgres table.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and ensures the snapshots table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, kernel.Wrap(kernel.KindTransportError, "open postgres snapshot store", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, kernel.Wrap(kernel.KindTransportError, "ping postgres snapshot store", err)
	}

	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// newForTest builds a Store around an already-open *sql.DB (e.g. a
// go-sqlmock connection), skipping the migration so tests can assert the
// exact SQL issued by each method.
func newForTest(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS snapshots (
			id SERIAL PRIMARY KEY,
			execution_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			graph_id TEXT NOT NULL,
			node_pointer TEXT NOT NULL,
			lifecycle_state TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			version TEXT NOT NULL,
			record TEXT NOT NULL,
			is_terminal BOOLEAN NOT NULL
		)`)
	if err != nil {
		return kernel.Wrap(kernel.KindTransportError, "create snapshots table", err)
	}
	_, err = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_snapshots_exec ON snapshots(execution_id)`)
	if err != nil {
		return kernel.Wrap(kernel.KindTransportError, "create snapshots index", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func isTerminalState(st kernel.LifecycleState) bool {
	switch st {
	case kernel.StateCompleted, kernel.StateFailed, kernel.StateAborted, kernel.StateSnapshotPersisted:
		return true
	default:
		return false
	}
}

// Save appends rec, replacing the prior row in place once a terminal
// snapshot already exists for the execution, matching sqlite.Store's transaction shape with
// Postgres's $n placeholders.
func (s *Store) Save(ctx context.Context, rec *kernel.SnapshotRecord) error {
	if rec == nil || rec.ExecutionID == "" {
		return kernel.NewError(kernel.KindValidationError, "snapshot record must have an executionId")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return kernel.Wrap(kernel.KindValidationError, "marshal snapshot record", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kernel.Wrap(kernel.KindTransportError, "begin snapshot save", err)
	}
	defer tx.Rollback()

	if isTerminalState(rec.LifecycleState) {
		var priorTerminal int
		row := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM snapshots
			WHERE execution_id = $1 AND is_terminal = true
		`, rec.ExecutionID)
		if err := row.Scan(&priorTerminal); err != nil {
			return kernel.Wrap(kernel.KindTransportError, "check prior terminal snapshot", err)
		}
		if priorTerminal > 0 {
			_, err = tx.ExecContext(ctx, `
				UPDATE snapshots SET node_pointer=$1, lifecycle_state=$2, timestamp=$3, version=$4, record=$5
				WHERE execution_id = $6 AND is_terminal = true
			`, rec.NodePointer, string(rec.LifecycleState), rec.Timestamp.UnixNano(), rec.Version, payload, rec.ExecutionID)
			if err != nil {
				return kernel.Wrap(kernel.KindTransportError, "replace terminal snapshot", err)
			}
			return tx.Commit()
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (execution_id, agent_id, graph_id, node_pointer, lifecycle_state, timestamp, version, record, is_terminal)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ExecutionID, rec.AgentID, rec.GraphID, rec.NodePointer, string(rec.LifecycleState), rec.Timestamp.UnixNano(), rec.Version, payload, isTerminalState(rec.LifecycleState))
	if err != nil {
		return kernel.Wrap(kernel.KindTransportError, "insert snapshot", err)
	}
	return tx.Commit()
}

// Load returns the most recently saved record for executionID.
func (s *Store) Load(ctx context.Context, executionID string) (*kernel.SnapshotRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT record FROM snapshots WHERE execution_id = $1 ORDER BY timestamp DESC, id DESC LIMIT 1
	`, executionID)
	var payload string
	if err := row.Scan(&payload); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, kernel.Wrap(kernel.KindTransportError, "load snapshot", err)
	}
	return decode(payload)
}

// List returns the latest record per execution belonging to agentID, most
// recent first.
func (s *Store) List(ctx context.Context, agentID string) ([]*kernel.SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM snapshots s
		WHERE agent_id = $1 AND timestamp = (
			SELECT MAX(timestamp) FROM snapshots WHERE execution_id = s.execution_id
		)
		ORDER BY timestamp DESC
	`, agentID)
	if err != nil {
		return nil, kernel.Wrap(kernel.KindTransportError, "list snapshots", err)
	}
	defer rows.Close()

	var out []*kernel.SnapshotRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, kernel.Wrap(kernel.KindTransportError, "scan snapshot", err)
		}
		rec, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes every record for one execution.
func (s *Store) Delete(ctx context.Context, executionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE execution_id = $1`, executionID)
	if err != nil {
		return kernel.Wrap(kernel.KindTransportError, "delete snapshot", err)
	}
	return nil
}

// DeleteAll clears the entire table.
func (s *Store) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots`)
	if err != nil {
		return kernel.Wrap(kernel.KindTransportError, "delete all snapshots", err)
	}
	return nil
}

// LoadExecution returns every snapshot recorded for executionID in
// lifecycle (save) order.
func (s *Store) LoadExecution(ctx context.Context, executionID string) ([]*kernel.SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM snapshots WHERE execution_id = $1 ORDER BY id ASC
	`, executionID)
	if err != nil {
		return nil, kernel.Wrap(kernel.KindTransportError, "load execution history", err)
	}
	defer rows.Close()

	var out []*kernel.SnapshotRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, kernel.Wrap(kernel.KindTransportError, "scan execution history", err)
		}
		rec, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func decode(payload string) (*kernel.SnapshotRecord, error) {
	var rec kernel.SnapshotRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, kernel.Wrap(kernel.KindValidationError, "decode snapshot record", err)
	}
	return &rec, nil
}
