package syncstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dropwired/dropwired/internal/syncerr"
)

const (
	// No-op (zero rows inserted) unless the file's FileSyncRow is Alive.
	sqlStartInFlight = `INSERT INTO sync_incoming_files_inflight (sync_id, path_id, base_dir)
		SELECT st.sync_id, sif.path_id, ? FROM sync_transfer st
		JOIN sync_incoming_files sif ON sif.sync_id = st.sync_id
		WHERE st.transfer_id = ? AND sif.path_id = ? AND sif.local_state = ?`

	sqlStopInFlight = `DELETE FROM sync_incoming_files_inflight
		WHERE sync_id = (SELECT sync_id FROM sync_transfer WHERE transfer_id = ?) AND path_id = ?`

	sqlListInFlight = `SELECT sif.path_id, sif.base_dir FROM sync_incoming_files_inflight sif
		JOIN sync_transfer st ON st.sync_id = sif.sync_id
		WHERE st.transfer_id = ?`

	sqlRecordFinished = `INSERT INTO finished_incoming_files (sync_id, path_id, final_path, finished_at)
		VALUES ((SELECT sync_id FROM sync_transfer WHERE transfer_id = ?), ?, ?, ?)
		ON CONFLICT (sync_id, path_id) DO UPDATE SET final_path = excluded.final_path, finished_at = excluded.finished_at`

	sqlGetFinished = `SELECT fif.path_id, fif.final_path FROM finished_incoming_files fif
		JOIN sync_transfer st ON st.sync_id = fif.sync_id
		WHERE st.transfer_id = ?`
)

// FinishedFile pairs a declared file id with the final path it was placed
// at, used to repopulate the directory-remap cache after a restart.
type FinishedFile struct {
	PathID    uint64
	FinalPath string
}

func (s *Store) prepareFlightStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.flightStmts.start, sqlStartInFlight, "startInFlight"},
		{&s.flightStmts.stop, sqlStopInFlight, "stopInFlight"},
		{&s.flightStmts.list, sqlListInFlight, "listInFlight"},
		{&s.flightStmts.recordFinished, sqlRecordFinished, "recordFinished"},
		{&s.flightStmts.getFinished, sqlGetFinished, "getFinished"},
	})
}

// StartIncomingFile records that the receiver has committed to writing a
// file's bytes under baseDir, so a crash mid-download can be recovered
// deterministically on restart.
func (s *Store) StartIncomingFile(ctx context.Context, transferID string, pathID uint64, baseDir string) error {
	if _, err := s.flightStmts.start.ExecContext(ctx, baseDir, transferID, pathID, int(FileAlive)); err != nil {
		return fmt.Errorf("%w: starting in-flight file: %v", syncerr.ErrStorage, err)
	}

	return nil
}

// StopIncomingFile clears the in-flight marker for a file, whether it
// finished, failed, or was canceled.
func (s *Store) StopIncomingFile(ctx context.Context, transferID string, pathID uint64) error {
	if _, err := s.flightStmts.stop.ExecContext(ctx, transferID, pathID); err != nil {
		return fmt.Errorf("%w: stopping in-flight file: %v", syncerr.ErrStorage, err)
	}

	return nil
}

// FilesInFlight lists every file still marked in-flight for a transfer,
// used to resume or clean up abandoned downloads after a crash.
func (s *Store) FilesInFlight(ctx context.Context, transferID string) ([]InFlightEntry, error) {
	rows, err := s.flightStmts.list.QueryContext(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing in-flight files: %v", syncerr.ErrStorage, err)
	}
	defer rows.Close()

	var entries []InFlightEntry

	for rows.Next() {
		var e InFlightEntry
		if err := rows.Scan(&e.PathID, &e.BaseDir); err != nil {
			return nil, fmt.Errorf("%w: scanning in-flight file: %v", syncerr.ErrStorage, err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating in-flight files: %v", syncerr.ErrStorage, err)
	}

	return entries, nil
}

// RegisterFinishedIncomingFile records the final on-disk path for a
// completed download and clears its in-flight marker in the same
// transaction, so the directory-remap cache can be rebuilt from this table
// alone after a restart.
func (s *Store) RegisterFinishedIncomingFile(ctx context.Context, transferID string, pathID uint64, finalPath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin register finished file: %v", syncerr.ErrStorage, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op if committed

	if _, err := tx.StmtContext(ctx, s.flightStmts.recordFinished).ExecContext(
		ctx, transferID, pathID, finalPath, time.Now().UTC().Unix(),
	); err != nil {
		return fmt.Errorf("%w: recording finished file: %v", syncerr.ErrStorage, err)
	}

	if _, err := tx.StmtContext(ctx, s.flightStmts.stop).ExecContext(ctx, transferID, pathID); err != nil {
		return fmt.Errorf("%w: clearing in-flight marker: %v", syncerr.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit register finished file: %v", syncerr.ErrStorage, err)
	}

	return nil
}

// FinishedIncomingFiles returns every completed placement recorded for a
// transfer, used to rebuild the directory-remap cache on restart.
func (s *Store) FinishedIncomingFiles(ctx context.Context, transferID string) ([]FinishedFile, error) {
	rows, err := s.flightStmts.getFinished.QueryContext(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing finished files: %v", syncerr.ErrStorage, err)
	}
	defer rows.Close()

	var out []FinishedFile

	for rows.Next() {
		var f FinishedFile
		if err := rows.Scan(&f.PathID, &f.FinalPath); err != nil {
			return nil, fmt.Errorf("%w: scanning finished file: %v", syncerr.ErrStorage, err)
		}

		out = append(out, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating finished files: %v", syncerr.ErrStorage, err)
	}

	return out, nil
}

// AllFinishedIncomingFiles returns every completed placement across all
// transfers, used to rebuild the directory-remap cache from a cold start
// without iterating transfers one by one.
func (s *Store) AllFinishedIncomingFiles(ctx context.Context) ([]FinishedFile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path_id, final_path FROM finished_incoming_files`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing all finished files: %v", syncerr.ErrStorage, err)
	}
	defer rows.Close()

	var out []FinishedFile

	for rows.Next() {
		var f FinishedFile
		if err := rows.Scan(&f.PathID, &f.FinalPath); err != nil {
			return nil, fmt.Errorf("%w: scanning finished file: %v", syncerr.ErrStorage, err)
		}

		out = append(out, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating all finished files: %v", syncerr.ErrStorage, err)
	}

	return out, nil
}
