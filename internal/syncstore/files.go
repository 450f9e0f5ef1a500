package syncstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dropwired/dropwired/internal/syncerr"
)

const (
	sqlInsertIncomingFile = `INSERT INTO sync_incoming_files (sync_id, path_id, local_state, remote_state)
		VALUES (?, ?, ?, ?)`
	sqlInsertOutgoingFile = `INSERT INTO sync_outgoing_files (sync_id, path_id, local_state, remote_state)
		VALUES (?, ?, ?, ?)`

	sqlGetIncomingFile = `SELECT local_state, remote_state FROM sync_incoming_files
		WHERE sync_id = (SELECT sync_id FROM sync_transfer WHERE transfer_id = ?) AND path_id = ?`
	sqlGetOutgoingFile = `SELECT local_state, remote_state FROM sync_outgoing_files
		WHERE sync_id = (SELECT sync_id FROM sync_transfer WHERE transfer_id = ?) AND path_id = ?`

	// local_state never moves Rejected -> Alive (spec §4.1): the guard
	// clause is a no-op unless the caller is asking for exactly that
	// transition, in which case RowsAffected is 0.
	sqlSetIncomingLocal = `UPDATE sync_incoming_files SET local_state = ?
		WHERE sync_id = (SELECT sync_id FROM sync_transfer WHERE transfer_id = ?) AND path_id = ?
		AND NOT (local_state = 1 AND ? = 0)`
	sqlSetIncomingRemote = `UPDATE sync_incoming_files SET remote_state = ?
		WHERE sync_id = (SELECT sync_id FROM sync_transfer WHERE transfer_id = ?) AND path_id = ?`
	sqlSetOutgoingLocal = `UPDATE sync_outgoing_files SET local_state = ?
		WHERE sync_id = (SELECT sync_id FROM sync_transfer WHERE transfer_id = ?) AND path_id = ?
		AND NOT (local_state = 1 AND ? = 0)`
	sqlSetOutgoingRemote = `UPDATE sync_outgoing_files SET remote_state = ?
		WHERE sync_id = (SELECT sync_id FROM sync_transfer WHERE transfer_id = ?) AND path_id = ?`

	sqlFilesToReject = `SELECT sif.path_id FROM sync_incoming_files sif
		JOIN sync_transfer st ON st.sync_id = sif.sync_id
		WHERE st.transfer_id = ? AND sif.local_state = ? AND sif.remote_state != ?`
	sqlOutgoingFilesToReject = `SELECT sof.path_id FROM sync_outgoing_files sof
		JOIN sync_transfer st ON st.sync_id = sof.sync_id
		WHERE st.transfer_id = ? AND sof.local_state = ? AND sof.remote_state != ?`
)

func (s *Store) prepareFileStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.fileStmts.insertIncoming, sqlInsertIncomingFile, "insertIncomingFile"},
		{&s.fileStmts.insertOutgoing, sqlInsertOutgoingFile, "insertOutgoingFile"},
		{&s.fileStmts.getIncoming, sqlGetIncomingFile, "getIncomingFile"},
		{&s.fileStmts.getOutgoing, sqlGetOutgoingFile, "getOutgoingFile"},
		{&s.fileStmts.setIncomingLocal, sqlSetIncomingLocal, "setIncomingFileLocal"},
		{&s.fileStmts.setIncomingRemote, sqlSetIncomingRemote, "setIncomingFileRemote"},
		{&s.fileStmts.setOutgoingLocal, sqlSetOutgoingLocal, "setOutgoingFileLocal"},
		{&s.fileStmts.setOutgoingRemote, sqlSetOutgoingRemote, "setOutgoingFileRemote"},
		{&s.fileStmts.filesToReject, sqlFilesToReject, "filesToReject"},
	})
}

// FileState returns the (local_state, remote_state) pair for one declared
// file within a transfer.
func (s *Store) FileState(ctx context.Context, transferID string, direction Direction, pathID uint64) (local, remote FileState, err error) {
	stmt := s.fileStmts.getIncoming
	if direction == DirectionOutgoing {
		stmt = s.fileStmts.getOutgoing
	}

	var localRaw, remoteRaw int

	err = stmt.QueryRowContext(ctx, transferID, pathID).Scan(&localRaw, &remoteRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: file %d not declared in transfer %s", syncerr.ErrBadPath, pathID, transferID)
	}

	if err != nil {
		return 0, 0, fmt.Errorf("%w: reading file state: %v", syncerr.ErrStorage, err)
	}

	if local, err = ParseFileState(localRaw); err != nil {
		return 0, 0, err
	}

	if remote, err = ParseFileState(remoteRaw); err != nil {
		return 0, 0, err
	}

	return local, remote, nil
}

// SetFileLocalState records this host's intent for a single declared file.
// Returns false when the file is not part of the transfer, or when the
// requested transition is Rejected -> Alive, which is never permitted.
func (s *Store) SetFileLocalState(ctx context.Context, transferID string, direction Direction, pathID uint64, state FileState) (bool, error) {
	stmt := s.fileStmts.setIncomingLocal
	if direction == DirectionOutgoing {
		stmt = s.fileStmts.setOutgoingLocal
	}

	return execAffected(ctx, stmt, int(state), transferID, pathID, int(state))
}

// SetFileRemoteState records the peer's reported intent for a single
// declared file. Returns false when the file is not part of the transfer.
func (s *Store) SetFileRemoteState(ctx context.Context, transferID string, direction Direction, pathID uint64, state FileState) (bool, error) {
	stmt := s.fileStmts.setIncomingRemote
	if direction == DirectionOutgoing {
		stmt = s.fileStmts.setOutgoingRemote
	}

	return execAffected(ctx, stmt, int(state), transferID, pathID)
}

// FilesToReject returns the path ids this host has locally rejected but has
// not yet confirmed the peer has acknowledged, driving the
// announce-reject-to-peer loop.
func (s *Store) FilesToReject(ctx context.Context, transferID string, direction Direction) ([]uint64, error) {
	query := sqlFilesToReject
	if direction == DirectionOutgoing {
		query = sqlOutgoingFilesToReject
	}

	rows, err := s.db.QueryContext(ctx, query, transferID, int(FileRejected), int(FileRejected))
	if err != nil {
		return nil, fmt.Errorf("%w: listing rejected files: %v", syncerr.ErrStorage, err)
	}
	defer rows.Close()

	var ids []uint64

	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scanning rejected file id: %v", syncerr.ErrStorage, err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating rejected files: %v", syncerr.ErrStorage, err)
	}

	return ids, nil
}

func execAffected(ctx context.Context, stmt *sql.Stmt, args ...any) (bool, error) {
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return false, fmt.Errorf("%w: executing update: %v", syncerr.ErrStorage, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: reading rows affected: %v", syncerr.ErrStorage, err)
	}

	return n > 0, nil
}
