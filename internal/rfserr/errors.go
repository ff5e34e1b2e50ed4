// Package rfserr defines the sentinel error taxonomy shared across the
// peer's layers. Callers wrap these with fmt.Errorf("%w: ...", ErrX, ...)
// to add context; callers that need to branch on kind use errors.Is.
package rfserr

import "errors"

var (
	// ErrConnectFailed means dialing a peer's address did not succeed.
	ErrConnectFailed = errors.New("rfs: connect failed")

	// ErrPeerClosed means the remote end closed the socket before a
	// complete frame was read.
	ErrPeerClosed = errors.New("rfs: peer closed connection")

	// ErrFrameTooLarge means a frame's length prefix exceeded the
	// session's configured maximum.
	ErrFrameTooLarge = errors.New("rfs: frame too large")

	// ErrMalformedFrame means the frame body failed to decode as CBOR,
	// or decoded to an unknown kind.
	ErrMalformedFrame = errors.New("rfs: malformed frame")

	// ErrUnexpectedFrame means a frame of the wrong kind was received
	// where a specific response was awaited.
	ErrUnexpectedFrame = errors.New("rfs: unexpected frame")

	// ErrUnknownFile means a file id was not present in the file store.
	ErrUnknownFile = errors.New("rfs: unknown file")

	// ErrPieceHashMismatch means a piece's SHA-256 did not match the
	// manifest's recorded hash for that index.
	ErrPieceHashMismatch = errors.New("rfs: piece hash mismatch")

	// ErrPieceUnavailable means a piece could not be fetched from any
	// surviving session.
	ErrPieceUnavailable = errors.New("rfs: piece unavailable")

	// ErrNoReachablePeers means every session for a download failed to
	// connect or retrieve info.
	ErrNoReachablePeers = errors.New("rfs: no reachable peers")

	// ErrConflictingManifest means a file id was re-inserted with a
	// name or hashes vector that disagrees with the existing entry.
	ErrConflictingManifest = errors.New("rfs: conflicting manifest")

	// ErrIO wraps an underlying filesystem or network error that does
	// not fit a more specific kind.
	ErrIO = errors.New("rfs: io error")

	// ErrConfig means a configuration value was invalid or missing.
	ErrConfig = errors.New("rfs: config error")
)
