package syncstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dropwired/dropwired/internal/syncerr"
)

const (
	sqlInsertTransfer = `INSERT INTO transfers (transfer_id, peer_ip, direction, created_at)
		VALUES (?, ?, ?, ?)`

	sqlInsertIncomingPath = `INSERT INTO incoming_paths (transfer_id, path_id, sub_path, size, ord, checksum_hex)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlInsertOutgoingPath = `INSERT INTO outgoing_paths (transfer_id, path_id, sub_path, size, ord, checksum_hex)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlInsertSync = `INSERT INTO sync_transfer (transfer_id, local_state, remote_state) VALUES (?, ?, ?)`

	sqlGetSync = `SELECT st.sync_id, st.local_state, st.remote_state, t.direction
		FROM sync_transfer st JOIN transfers t ON t.transfer_id = st.transfer_id
		WHERE st.transfer_id = ?`

	// Only a transition to Canceled is permitted through the generic setter;
	// New -> Active only happens via the joint transition rule in
	// ActivateIfNew (open question §9: correlated single-row updates, never
	// a multi-column IN clause).
	sqlSetLocal = `UPDATE sync_transfer SET local_state = ? WHERE transfer_id = ? AND ? = ?`

	sqlSetRemote = `UPDATE sync_transfer SET remote_state = ? WHERE transfer_id = ? AND ? = ?`

	sqlClearTransfer = `DELETE FROM transfers WHERE transfer_id = ?`
)

func (s *Store) prepareTransferStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.transferStmts.insertTransfer, sqlInsertTransfer, "insertTransfer"},
		{&s.transferStmts.insertIncomingPath, sqlInsertIncomingPath, "insertIncomingPath"},
		{&s.transferStmts.insertOutgoingPath, sqlInsertOutgoingPath, "insertOutgoingPath"},
		{&s.transferStmts.insertSync, sqlInsertSync, "insertSync"},
		{&s.transferStmts.getSync, sqlGetSync, "getSync"},
		{&s.transferStmts.setLocal, sqlSetLocal, "setTransferLocal"},
		{&s.transferStmts.setRemote, sqlSetRemote, "setTransferRemote"},
		{&s.transferStmts.clearTransfer, sqlClearTransfer, "clearTransfer"},
	})
}

// SaveTransferDefinition persists a transfer's identity and its ordered file
// list. Must be called before InsertTransfer, which reads the path table
// back to populate FileSyncRows.
func (s *Store) SaveTransferDefinition(ctx context.Context, row TransferRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin save transfer: %v", syncerr.ErrStorage, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op if committed

	if _, err := tx.StmtContext(ctx, s.transferStmts.insertTransfer).ExecContext(
		ctx, row.TransferID, row.PeerIP, int(row.Direction), time.Now().UTC().Unix(),
	); err != nil {
		return fmt.Errorf("%w: insert transfer: %v", syncerr.ErrStorage, err)
	}

	insertStmt := s.transferStmts.insertIncomingPath
	if row.Direction == DirectionOutgoing {
		insertStmt = s.transferStmts.insertOutgoingPath
	}

	for i, p := range row.Paths {
		if _, err := tx.StmtContext(ctx, insertStmt).ExecContext(
			ctx, row.TransferID, p.PathID, joinSubPath(p.SubPath), p.Size, i, p.ChecksumHex,
		); err != nil {
			return fmt.Errorf("%w: insert path: %v", syncerr.ErrStorage, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit save transfer: %v", syncerr.ErrStorage, err)
	}

	return nil
}

// InsertTransfer inserts the TransferSyncRow with both states=New and
// populates FileSyncRows from the path table saved by SaveTransferDefinition.
// Fails if the UUID already has a sync row.
func (s *Store) InsertTransfer(ctx context.Context, transferID string, direction Direction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin insert transfer: %v", syncerr.ErrStorage, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op if committed

	res, err := tx.StmtContext(ctx, s.transferStmts.insertSync).ExecContext(
		ctx, transferID, int(TransferNew), int(TransferNew),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: transfer %s already has a sync row", syncerr.ErrBadTransferState, transferID)
		}

		return fmt.Errorf("%w: insert sync row: %v", syncerr.ErrStorage, err)
	}

	syncID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: reading sync_id: %v", syncerr.ErrStorage, err)
	}

	pathTable := "incoming_paths"

	insertFileStmt := s.fileStmts.insertIncoming
	if direction == DirectionOutgoing {
		pathTable = "outgoing_paths"
		insertFileStmt = s.fileStmts.insertOutgoing
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT path_id FROM %s WHERE transfer_id = ?", pathTable), transferID) //nolint:gosec // table name is a compile-time constant, never user input
	if err != nil {
		return fmt.Errorf("%w: listing declared files: %v", syncerr.ErrStorage, err)
	}

	var pathIDs []uint64

	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("%w: scanning path id: %v", syncerr.ErrStorage, err)
		}

		pathIDs = append(pathIDs, id)
	}

	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("%w: iterating declared files: %v", syncerr.ErrStorage, err)
	}

	rows.Close()

	for _, pid := range pathIDs {
		if _, err := tx.StmtContext(ctx, insertFileStmt).ExecContext(ctx, syncID, pid, int(FileAlive), int(FileAlive)); err != nil {
			return fmt.Errorf("%w: insert file sync row: %v", syncerr.ErrStorage, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit insert transfer: %v", syncerr.ErrStorage, err)
	}

	return nil
}

// GetTransferDefinition re-fetches a previously persisted transfer's peer
// and declared file list, used to validate a resume request bit-wise
// against the proposal the peer just sent.
func (s *Store) GetTransferDefinition(ctx context.Context, transferID string) (*TransferRow, error) {
	var peerIP string

	var direction int

	err := s.db.QueryRowContext(ctx, `SELECT peer_ip, direction FROM transfers WHERE transfer_id = ?`, transferID).
		Scan(&peerIP, &direction)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", syncerr.ErrBadTransfer, transferID)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: reading transfer definition: %v", syncerr.ErrStorage, err)
	}

	pathTable := "incoming_paths"
	if Direction(direction) == DirectionOutgoing {
		pathTable = "outgoing_paths"
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT path_id, sub_path, size, checksum_hex FROM %s WHERE transfer_id = ? ORDER BY ord", pathTable), //nolint:gosec // table name is a compile-time constant, never user input
		transferID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: listing declared paths: %v", syncerr.ErrStorage, err)
	}
	defer rows.Close()

	var paths []PathEntry

	for rows.Next() {
		var (
			pathID      uint64
			subPath     string
			size        uint64
			checksumHex string
		)

		if err := rows.Scan(&pathID, &subPath, &size, &checksumHex); err != nil {
			return nil, fmt.Errorf("%w: scanning declared path: %v", syncerr.ErrStorage, err)
		}

		paths = append(paths, PathEntry{PathID: pathID, SubPath: splitSubPath(subPath), Size: size, ChecksumHex: checksumHex})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating declared paths: %v", syncerr.ErrStorage, err)
	}

	return &TransferRow{
		TransferID: transferID,
		PeerIP:     peerIP,
		Direction:  Direction(direction),
		Paths:      paths,
	}, nil
}

// TransferState returns the (local_state, remote_state, direction) triple
// for a known transfer, or (nil, nil) if no sync row exists.
func (s *Store) TransferState(ctx context.Context, transferID string) (*TransferSync, error) {
	var syncID int64

	var localState, remoteState, direction int

	err := s.transferStmts.getSync.QueryRowContext(ctx, transferID).Scan(&syncID, &localState, &remoteState, &direction)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absence is a valid, expected outcome here
	}

	if err != nil {
		return nil, fmt.Errorf("%w: reading transfer state: %v", syncerr.ErrStorage, err)
	}

	local, err := ParseTransferState(localState)
	if err != nil {
		return nil, err
	}

	remote, err := ParseTransferState(remoteState)
	if err != nil {
		return nil, err
	}

	return &TransferSync{LocalState: local, RemoteState: remote, Direction: Direction(direction)}, nil
}

// SetTransferLocalState sets local_state to Canceled. Returns false if no
// row was affected (unknown transfer). Any other target state is rejected:
// New -> Active only happens through ActivateIfNew.
func (s *Store) SetTransferLocalState(ctx context.Context, transferID string, state TransferState) (bool, error) {
	return s.setTransferState(ctx, s.transferStmts.setLocal, transferID, state)
}

// SetTransferRemoteState sets remote_state to Canceled. See
// SetTransferLocalState for the transition restriction.
func (s *Store) SetTransferRemoteState(ctx context.Context, transferID string, state TransferState) (bool, error) {
	return s.setTransferState(ctx, s.transferStmts.setRemote, transferID, state)
}

func (s *Store) setTransferState(ctx context.Context, stmt *sql.Stmt, transferID string, state TransferState) (bool, error) {
	if state != TransferCanceled {
		return false, fmt.Errorf("%w: direct transition to %s not permitted", syncerr.ErrBadTransferState, state)
	}

	res, err := stmt.ExecContext(ctx, int(state), transferID, int(state), int(TransferCanceled))
	if err != nil {
		return false, fmt.Errorf("%w: updating transfer state: %v", syncerr.ErrStorage, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: reading rows affected: %v", syncerr.ErrStorage, err)
	}

	return n > 0, nil
}

// ActivateIfNew implements the transition rule: when local_state is New and
// an Active signal arrives from the peer, both states become Active in a
// single transaction. Returns whether the transition was applied.
func (s *Store) ActivateIfNew(ctx context.Context, transferID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_transfer SET local_state = ?, remote_state = ?
		 WHERE transfer_id = ? AND local_state = ?`,
		int(TransferActive), int(TransferActive), transferID, int(TransferNew),
	)
	if err != nil {
		return false, fmt.Errorf("%w: activating transfer: %v", syncerr.ErrStorage, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: reading rows affected: %v", syncerr.ErrStorage, err)
	}

	return n > 0, nil
}

// ClearTransfer cascading-deletes the TransferSyncRow, FileSyncRows, and
// InFlightRows for a transfer.
func (s *Store) ClearTransfer(ctx context.Context, transferID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin clear transfer: %v", syncerr.ErrStorage, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op if committed

	var syncID sql.NullInt64

	err = tx.QueryRowContext(ctx, `SELECT sync_id FROM sync_transfer WHERE transfer_id = ?`, transferID).Scan(&syncID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: reading sync_id for clear: %v", syncerr.ErrStorage, err)
	}

	if syncID.Valid {
		deletes := []string{
			`DELETE FROM sync_incoming_files_inflight WHERE sync_id = ?`,
			`DELETE FROM finished_incoming_files WHERE sync_id = ?`,
			`DELETE FROM sync_incoming_files WHERE sync_id = ?`,
			`DELETE FROM sync_outgoing_files WHERE sync_id = ?`,
			`DELETE FROM sync_transfer WHERE sync_id = ?`,
		}
		for _, q := range deletes {
			if _, err := tx.ExecContext(ctx, q, syncID.Int64); err != nil {
				return fmt.Errorf("%w: clearing sync rows: %v", syncerr.ErrStorage, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM incoming_paths WHERE transfer_id = ?`, transferID); err != nil {
		return fmt.Errorf("%w: clearing incoming paths: %v", syncerr.ErrStorage, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM outgoing_paths WHERE transfer_id = ?`, transferID); err != nil {
		return fmt.Errorf("%w: clearing outgoing paths: %v", syncerr.ErrStorage, err)
	}

	if _, err := tx.StmtContext(ctx, s.transferStmts.clearTransfer).ExecContext(ctx, transferID); err != nil {
		return fmt.Errorf("%w: clearing transfer: %v", syncerr.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit clear transfer: %v", syncerr.ErrStorage, err)
	}

	return nil
}

// TransferSummary is one row of ListTransfers' output: a transfer's
// identity alongside its current sync state, for reporting.
type TransferSummary struct {
	TransferID  string
	PeerIP      string
	Direction   Direction
	LocalState  TransferState
	RemoteState TransferState
}

// ListTransfers returns every transfer with a live sync row, for the
// status command's point-in-time snapshot. Ordering is by creation time.
func (s *Store) ListTransfers(ctx context.Context) ([]TransferSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.transfer_id, t.peer_ip, t.direction, st.local_state, st.remote_state
		FROM sync_transfer st
		JOIN transfers t ON t.transfer_id = st.transfer_id
		ORDER BY t.created_at`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing transfers: %v", syncerr.ErrStorage, err)
	}
	defer rows.Close()

	var out []TransferSummary

	for rows.Next() {
		var (
			id                 string
			peerIP             string
			direction          int
			localState, remote int
		)

		if err := rows.Scan(&id, &peerIP, &direction, &localState, &remote); err != nil {
			return nil, fmt.Errorf("%w: scanning transfer summary: %v", syncerr.ErrStorage, err)
		}

		local, err := ParseTransferState(localState)
		if err != nil {
			return nil, err
		}

		remoteState, err := ParseTransferState(remote)
		if err != nil {
			return nil, err
		}

		out = append(out, TransferSummary{
			TransferID:  id,
			PeerIP:      peerIP,
			Direction:   Direction(direction),
			LocalState:  local,
			RemoteState: remoteState,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating transfer summaries: %v", syncerr.ErrStorage, err)
	}

	return out, nil
}

// PurgeOrphaned deletes sync rows for transfers not present in knownIDs.
// Supplemental recovery-sweep operation, not part of the per-transfer API.
func (s *Store) PurgeOrphaned(ctx context.Context, knownIDs map[string]struct{}) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT transfer_id FROM transfers`)
	if err != nil {
		return 0, fmt.Errorf("%w: listing transfers for purge: %v", syncerr.ErrStorage, err)
	}

	var toPurge []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("%w: scanning transfer id: %v", syncerr.ErrStorage, err)
		}

		if _, ok := knownIDs[id]; !ok {
			toPurge = append(toPurge, id)
		}
	}

	rows.Close()

	for _, id := range toPurge {
		if err := s.ClearTransfer(ctx, id); err != nil {
			return 0, err
		}
	}

	return len(toPurge), nil
}

func splitSubPath(s string) []string {
	var out []string

	start := 0

	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}

	return append(out, s[start:])
}

func joinSubPath(components []string) string {
	out := components[0]
	for _, c := range components[1:] {
		out += "/" + c
	}

	return out
}

func isUniqueViolation(err error) bool {
	return err != nil && errContains(err.Error(), "UNIQUE constraint failed")
}

func errContains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}

		return false
	})()
}
