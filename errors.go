package rudp

import "errors"

// Errors surfaced to callers. They are structured values, matched with
// errors.Is.
var (
	// ErrInvalidParameter reports a malformed argument to Bootstrap or Add.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrNoBootstrapEndpoints reports an empty bootstrap candidate list.
	ErrNoBootstrapEndpoints = errors.New("no bootstrap endpoints")
	// ErrFailedToGetLocalAddress reports that no local IP could be found.
	ErrFailedToGetLocalAddress = errors.New("failed to get local address")
	// ErrFailedToBootstrap reports that no bootstrap candidate succeeded.
	ErrFailedToBootstrap = errors.New("failed to bootstrap")
	// ErrAlreadyConnected reports a managed connection that already exists.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrConnectionAlreadyInProgress reports a re-entrant Add for a peer.
	ErrConnectionAlreadyInProgress = errors.New("connection already in progress")
	// ErrNotConnected reports a send to a peer with no managed connection.
	ErrNotConnected = errors.New("not connected")
	// ErrOperationNotSupported reports self-targeted calls and Add without
	// a prior GetAvailableEndpoint.
	ErrOperationNotSupported = errors.New("operation not supported")
)
