package tcr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrConnectionClosed is returned when issuing a command on a host whose
// connection was permanently abandoned. You can check for this error with errors.Is.
var ErrConnectionClosed = errors.New("connection is already closed")

// ConnectionState is the lifecycle state of one pooled connection.
type ConnectionState int32

const (
	// StateConnecting means the initial dial is in progress.
	StateConnecting ConnectionState = iota

	// StateConnected means the last heartbeat succeeded.
	StateConnected

	// StateReconnecting means the host is running its reconnect policy.
	StateReconnecting

	// StateDisconnected means the reconnect policy was exhausted. Terminal.
	StateDisconnected
)

// ConnectionHost wraps a single driver connection with heartbeat monitoring
// and the bounded constant-backoff reconnect policy.
type ConnectionHost struct {
	ConnectionID uint64

	connection Connection
	dialer     Dialer
	config     *ConnectionConfig
	policy     ReconnectPolicy

	heartbeatInterval time.Duration
	state             int32
	inflight          int64

	errors     chan<- error
	onTerminal func(*ConnectionHost)

	stop     chan struct{}
	done     chan struct{}
	connLock *sync.Mutex
	stopOnce sync.Once
}

// NewConnectionHost dials one connection and starts its heartbeat monitor.
// The monitor goroutine is the host's background handle; Close joins it.
func NewConnectionHost(
	ctx context.Context,
	dialer Dialer,
	config *ConnectionConfig,
	connectionID uint64,
	policy ReconnectPolicy,
	heartbeatInterval time.Duration,
	errorSink chan<- error,
	onTerminal func(*ConnectionHost)) (*ConnectionHost, error) {

	host := &ConnectionHost{
		ConnectionID:      connectionID,
		dialer:            dialer,
		config:            config,
		policy:            policy,
		heartbeatInterval: heartbeatInterval,
		errors:            errorSink,
		onTerminal:        onTerminal,
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
		connLock:          &sync.Mutex{},
	}

	host.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, config.ConnectionTimeout)
	defer cancel()

	connection, err := dialer.Dial(dialCtx, config)
	if err != nil {
		return nil, err
	}

	host.connection = connection
	host.setState(StateConnected)

	go host.monitor()

	return host, nil
}

// State returns the current lifecycle state.
func (ch *ConnectionHost) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&ch.state))
}

func (ch *ConnectionHost) setState(s ConnectionState) {
	atomic.StoreInt32(&ch.state, int32(s))
}

// InflightCommands returns how many commands are currently outstanding.
func (ch *ConnectionHost) InflightCommands() int64 {
	return atomic.LoadInt64(&ch.inflight)
}

// Command issues one command on the wrapped connection. Blocking commands
// are rejected outright since a blocked connection starves the whole pool.
func (ch *ConnectionHost) Command(ctx context.Context, args ...string) (*Reply, error) {
	if len(args) > 0 && IsBlockingCommand(args[0]) {
		return nil, ErrBlockingCommand
	}

	connection, err := ch.conn()
	if err != nil {
		return nil, err
	}

	atomic.AddInt64(&ch.inflight, 1)
	defer atomic.AddInt64(&ch.inflight, -1)

	return connection.Command(ctx, args...)
}

// Publish sends a payload to a pub/sub channel on the wrapped connection.
func (ch *ConnectionHost) Publish(ctx context.Context, channel string, payload []byte) error {
	connection, err := ch.conn()
	if err != nil {
		return err
	}

	atomic.AddInt64(&ch.inflight, 1)
	defer atomic.AddInt64(&ch.inflight, -1)

	return connection.Publish(ctx, channel, payload)
}

// Subscribe registers for a channel on the wrapped connection.
func (ch *ConnectionHost) Subscribe(ctx context.Context, channel string) (MessageStream, error) {
	connection, err := ch.conn()
	if err != nil {
		return nil, err
	}

	return connection.Subscribe(ctx, channel)
}

func (ch *ConnectionHost) conn() (Connection, error) {
	if ch.State() == StateDisconnected {
		return nil, ErrConnectionClosed
	}

	ch.connLock.Lock()
	defer ch.connLock.Unlock()

	if ch.connection == nil {
		return nil, ErrConnectionClosed
	}

	return ch.connection, nil
}

// monitor heartbeats the connection and runs the reconnect policy on failure.
// It exits when the host is closed or the policy is exhausted.
func (ch *ConnectionHost) monitor() {
	defer close(ch.done)

	ticker := time.NewTicker(ch.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ch.stop:
			return

		case <-ticker.C:
			if err := ch.ping(); err == nil {
				continue
			}

			if !ch.reconnect() {
				return
			}
		}
	}
}

func (ch *ConnectionHost) ping() error {
	connection, err := ch.conn()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ch.config.ConnectionTimeout)
	defer cancel()

	return connection.Ping(ctx)
}

// reconnect runs the bounded constant-backoff loop. Returns false once the
// policy gives up, leaving the host terminally disconnected.
func (ch *ConnectionHost) reconnect() bool {
	ch.setState(StateReconnecting)

	for attempts := 1; ; attempts++ {
		select {
		case <-ch.stop:
			return false
		case <-time.After(ch.policy.Delay):
		}

		dialCtx, cancel := context.WithTimeout(context.Background(), ch.config.ConnectionTimeout)
		connection, err := ch.dialer.Dial(dialCtx, ch.config)
		cancel()

		if err == nil {
			ch.swapConnection(connection)
			ch.setState(StateConnected)
			return true
		}

		ch.emitError(fmt.Errorf("connection %d reconnect attempt %d: %w", ch.ConnectionID, attempts, err))

		if ch.policy.Exhausted(attempts) {
			ch.abandon()
			return false
		}
	}
}

func (ch *ConnectionHost) swapConnection(connection Connection) {
	ch.connLock.Lock()
	old := ch.connection
	ch.connection = connection
	ch.connLock.Unlock()

	if old != nil {
		old.Close()
	}
}

// abandon marks the host terminally disconnected and notifies the owning pool.
func (ch *ConnectionHost) abandon() {
	ch.setState(StateDisconnected)

	ch.connLock.Lock()
	connection := ch.connection
	ch.connection = nil
	ch.connLock.Unlock()

	if connection != nil {
		connection.Close()
	}

	if ch.onTerminal != nil {
		ch.onTerminal(ch)
	}
}

func (ch *ConnectionHost) emitError(err error) {
	select {
	case ch.errors <- err:
	default: // nobody is draining fast enough, don't block the monitor
	}
}

// Close stops the heartbeat monitor, joins it, and quits the connection.
// Safe to call more than once.
func (ch *ConnectionHost) Close() {
	ch.stopOnce.Do(func() {
		close(ch.stop)
	})

	<-ch.done

	ch.connLock.Lock()
	connection := ch.connection
	ch.connection = nil
	ch.connLock.Unlock()

	ch.setState(StateDisconnected)

	if connection != nil {
		connection.Close()
	}
}
