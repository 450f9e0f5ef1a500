// Package syncerr holds the sentinel error taxonomy shared across the
// sync store, transfer manager, receiver session, and download task. Callers
// classify errors with errors.Is against these sentinels rather than string
// matching.
package syncerr

import "errors"

// Sentinel errors for classification across package boundaries.
var (
	// ErrBadTransfer indicates an unknown transfer UUID.
	ErrBadTransfer = errors.New("dropwired: unknown transfer")
	// ErrBadTransferState indicates a duplicate insert or an invalid state
	// transition attempt.
	ErrBadTransferState = errors.New("dropwired: invalid transfer state transition")
	// ErrBadPath indicates a malformed or missing sub-path component.
	ErrBadPath = errors.New("dropwired: malformed path")
	// ErrStorage wraps a failure in the durable sync store.
	ErrStorage = errors.New("dropwired: storage error")
	// ErrCanceled indicates clean, silent termination — no event is emitted.
	ErrCanceled = errors.New("dropwired: canceled")
	// ErrMismatchedSize indicates a chunk stream exceeded the declared size.
	ErrMismatchedSize = errors.New("dropwired: mismatched size")
	// ErrUnexpectedData indicates a checksum validation failure.
	ErrUnexpectedData = errors.New("dropwired: unexpected data")
	// ErrFilenameTooLong indicates a path component exceeds 255 codepoints.
	ErrFilenameTooLong = errors.New("dropwired: filename too long")
	// ErrAddrInUse indicates the configured listen address is already bound.
	ErrAddrInUse = errors.New("dropwired: address in use")
	// ErrInvalidArgument indicates an invalid configuration or call argument.
	ErrInvalidArgument = errors.New("dropwired: invalid argument")
	// ErrAlreadyRegistered indicates a transfer UUID already has a live
	// in-memory entry in the manager.
	ErrAlreadyRegistered = errors.New("dropwired: transfer already registered")
	// ErrUnsupportedVersion indicates a negotiated protocol version that
	// has no wire-message implementation in this session.
	ErrUnsupportedVersion = errors.New("dropwired: unsupported protocol version")
)
