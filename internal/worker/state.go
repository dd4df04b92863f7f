package worker

import (
	"errors"
	"fmt"

	"yqhp/cherry/internal/protocol"
)

// State is the position of a worker in its join sequence.
type State string

const (
	StateIdle              State = "idle"
	StateConnecting        State = "connecting"
	StateAwaitingConnect   State = "awaiting-connect-ack"
	StateAuthenticating    State = "authenticating"
	StateAwaitingJoin      State = "awaiting-join-result"
	StateFetchingHandshake State = "fetching-handshake"
	StateReady             State = "ready"
	StateRejected          State = "rejected"
	StateDisconnected      State = "disconnected"
)

// Stages at which the master can reject a worker.
const (
	StageConnect = "connect"
	StageJoin    = "join"
	StageFetch   = "fetch"
)

var (
	// ErrSecretRequired is returned when the master is secure and no secret
	// is configured.
	ErrSecretRequired = errors.New("master requires a secret")
	// ErrUnexpectedMessage is returned when the master answers out of order.
	ErrUnexpectedMessage = errors.New("unexpected message from master")
	// ErrDisconnected is returned when the master closes the connection.
	ErrDisconnected = errors.New("disconnected from master")
	// ErrNotReady is returned by operations that need a joined worker.
	ErrNotReady = errors.New("worker is not ready")
)

// RejectedError reports a rejection by the master. It is terminal for the
// connection attempt.
type RejectedError struct {
	Stage  string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Stage, protocol.DescribeReason(e.Reason))
}
