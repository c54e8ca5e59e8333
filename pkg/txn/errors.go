package txn

import (
	"github.com/nikmy/remotetx/pkg/errors"
)

var (
	// ErrChangeInsideTransaction is returned when autocommit, isolation
	// or read-only mode is changed while a transaction is open.
	ErrChangeInsideTransaction = errors.Error("change is not allowed inside a transaction")

	ErrUnsupportedIsolationLevel = errors.Error("unsupported isolation level")

	ErrConnectionClosed = errors.Error("connection is closed")

	// ErrInconsistentState means the executor reported a transaction that
	// contradicts the open one. It is a bug, never a user error.
	ErrInconsistentState = errors.Error("inconsistent transaction state")

	// ErrNotFound means the session or transaction no longer exists remotely.
	ErrNotFound = errors.Error("not found")
)

// RemoteError is a failed engine call, classified by the engine.
type RemoteError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *RemoteError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func NewRemoteError(op string, retryable bool, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteError{Op: op, Retryable: retryable, Err: err}
}

func IsRetryable(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.Retryable
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
