package tcr

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionPoolClosed is returned when a connection pool shutdown has been triggered.
	ErrConnectionPoolClosed = errors.New("connection pool closed")

	// ErrStreamClosed is returned by a MessageStream once the underlying connection is gone for good.
	ErrStreamClosed = errors.New("message stream closed")

	// ErrReceiverDisposed is returned when forwarding to a receiver whose handle was dropped.
	ErrReceiverDisposed = errors.New("receiver disposed")

	// ErrKeyNotFound is returned by key and hash lookups when the server replies nil.
	ErrKeyNotFound = errors.New("key not found")

	// ErrBlockingCommand is returned when a blocking command is issued on a pooled connection.
	// A blocked connection would starve the pool, so these are rejected outright.
	ErrBlockingCommand = errors.New("blocking commands are not allowed on pooled connections")

	errNilPoolConfig = errors.New("pool config can't be nil")
)

// ConfigurationError indicates malformed settings or an unparseable connection URI.
// Fatal at startup, never retried.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error during %s: %s", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ConnectionError indicates pool construction failed. Fatal to that construction
// call; the caller decides whether to retry the whole pool build.
type ConnectionError struct {
	URI string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error for %q: %s", e.URI, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SubscribeError indicates the subscribe call itself failed. Returned to the
// caller, no automatic retry.
type SubscribeError struct {
	Channel string
	Err     error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("failed to subscribe to channel %q: %s", e.Channel, e.Err)
}

func (e *SubscribeError) Unwrap() error { return e.Err }
