// Package sqlite implements snapshot.Store over a local, embedded SQLite
// file, so the kernel ships a durable reference backend without requiring
// an external database.
//
// Uses the pure-Go modernc.org/sqlite driver with a single shared
// connection (SetMaxOpenConns(1)) to serialize writers without external
// locking.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "modernc.org/sqlite"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// Store persists Snapshot Records to a SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens a snapshot database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, kernel.Wrap(kernel.KindTransportError, "open sqlite snapshot store", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS snapshots (
			execution_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			graph_id TEXT NOT NULL,
			node_pointer TEXT NOT NULL,
			lifecycle_state TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			version TEXT NOT NULL,
			record TEXT NOT NULL,
			is_terminal INTEGER NOT NULL
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

// Save appends rec, replacing the prior row in place when both the
// existing and the new record are terminal, mirroring snapshot.MemoryStore's in-memory behavior over SQL rows.
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
			WHERE execution_id = ? AND is_terminal = 1
		`, rec.ExecutionID)
		if err := row.Scan(&priorTerminal); err != nil {
			return kernel.Wrap(kernel.KindTransportError, "check prior terminal snapshot", err)
		}
		if priorTerminal > 0 {
			_, err = tx.ExecContext(ctx, `
				UPDATE snapshots SET node_pointer=?, lifecycle_state=?, timestamp=?, version=?, record=?
				WHERE execution_id = ? AND is_terminal = 1
			`, rec.NodePointer, string(rec.LifecycleState), rec.Timestamp.UnixNano(), rec.Version, payload, rec.ExecutionID)
			if err != nil {
				return kernel.Wrap(kernel.KindTransportError, "replace terminal snapshot", err)
			}
			return tx.Commit()
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (execution_id, agent_id, graph_id, node_pointer, lifecycle_state, timestamp, version, record, is_terminal)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ExecutionID, rec.AgentID, rec.GraphID, rec.NodePointer, string(rec.LifecycleState), rec.Timestamp.UnixNano(), rec.Version, payload, boolToInt(isTerminalState(rec.LifecycleState)))
	if err != nil {
		return kernel.Wrap(kernel.KindTransportError, "insert snapshot", err)
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Load returns the most recently saved record for executionID.
func (s *Store) Load(ctx context.Context, executionID string) (*kernel.SnapshotRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT record FROM snapshots WHERE execution_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT 1
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
		WHERE agent_id = ? AND timestamp = (
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
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE execution_id = ?`, executionID)
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
		SELECT record FROM snapshots WHERE execution_id = ? ORDER BY rowid ASC
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
