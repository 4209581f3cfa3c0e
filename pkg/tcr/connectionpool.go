package tcr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionPool houses a fixed-size set of live connections to one resolved
// endpoint (the reader or the writer target).
type ConnectionPool struct {
	Config PoolConfig

	uri        string
	connConfig *ConnectionConfig
	dialer     Dialer
	picker     Picker
	hosts      []*ConnectionHost

	errors       chan error
	disconnected chan struct{}
	liveCount    int64

	closed         int32
	disconnectOnce sync.Once
	shutdownOnce   sync.Once
}

// NewConnectionPool creates the pool with the default rueidis driver and
// round-robin selection.
func NewConnectionPool(config *PoolConfig) (*ConnectionPool, error) {
	return NewConnectionPoolWithDialer(config, RueidisDialer{})
}

// NewConnectionPoolWithDialer creates the pool on a caller-supplied Dialer.
func NewConnectionPoolWithDialer(config *PoolConfig, dialer Dialer) (*ConnectionPool, error) {
	return NewConnectionPoolWithPicker(config, dialer, NewRoundRobinPicker())
}

// NewConnectionPoolWithPicker creates the pool with an explicit selection
// strategy. Construction is all-or-nothing: any single connection failure
// closes the members that did come up and fails the whole call.
func NewConnectionPoolWithPicker(config *PoolConfig, dialer Dialer, picker Picker) (*ConnectionPool, error) {
	cfg := *config

	// Configs loaded from files can omit the intervals; a zero heartbeat
	// would panic the monitor's ticker and a zero timeout can never dial.
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 1000
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = 5000
	}

	connConfig, err := BuildConnectionConfig(&cfg)
	if err != nil {
		return nil, err
	}

	cp := &ConnectionPool{
		Config:       cfg,
		uri:          connConfig.URI,
		connConfig:   connConfig,
		dialer:       dialer,
		picker:       picker,
		errors:       make(chan error, cfg.PoolSize*10),
		disconnected: make(chan struct{}),
	}

	if err := cp.initializeConnections(); err != nil {
		return nil, &ConnectionError{URI: cp.uri, Err: err}
	}

	return cp, nil
}

func (cp *ConnectionPool) initializeConnections() error {
	policy := NewReconnectPolicy(&cp.Config)
	heartbeat := time.Duration(cp.Config.HeartbeatInterval) * time.Millisecond

	hosts := make([]*ConnectionHost, cp.Config.PoolSize)
	dialErrors := make([]error, cp.Config.PoolSize)

	// Counted down by hostAbandoned, so it has to be in place before the
	// first monitor starts.
	atomic.StoreInt64(&cp.liveCount, int64(cp.Config.PoolSize))

	wg := &sync.WaitGroup{}
	for i := 0; i < cp.Config.PoolSize; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			hosts[id], dialErrors[id] = NewConnectionHost(
				context.Background(),
				cp.dialer,
				cp.connConfig,
				uint64(id),
				policy,
				heartbeat,
				cp.errors,
				cp.hostAbandoned)
		}(i)
	}
	wg.Wait()

	for _, err := range dialErrors {
		if err == nil {
			continue
		}

		// No orphaned half-open pools.
		for _, host := range hosts {
			if host != nil {
				host.Close()
			}
		}

		return err
	}

	cp.hosts = hosts

	return nil
}

// hostAbandoned records a member giving up its reconnect policy. Once every
// member is gone the pool signals aggregate disconnection.
func (cp *ConnectionPool) hostAbandoned(host *ConnectionHost) {
	select {
	case cp.errors <- fmt.Errorf("connection %d permanently disconnected, reconnect attempts exhausted", host.ConnectionID):
	default:
	}

	if atomic.AddInt64(&cp.liveCount, -1) <= 0 {
		cp.disconnectOnce.Do(func() {
			close(cp.disconnected)
		})
	}
}

// Next picks one member connection. Never blocks; if every member is down the
// returned host's next command fails instead of the picker waiting.
func (cp *ConnectionPool) Next() (*ConnectionHost, error) {
	if atomic.LoadInt32(&cp.closed) == 1 {
		return nil, ErrConnectionPoolClosed
	}

	host := cp.picker.Pick(cp.hosts)
	if host == nil {
		return nil, ErrConnectionPoolClosed
	}

	return host, nil
}

// ConnectionCount returns the configured member count.
func (cp *ConnectionPool) ConnectionCount() int {
	return len(cp.hosts)
}

// LiveConnectionCount returns how many members have not been abandoned.
func (cp *ConnectionPool) LiveConnectionCount() int64 {
	return atomic.LoadInt64(&cp.liveCount)
}

// URI returns the resolved connection URI this pool targets.
func (cp *ConnectionPool) URI() string {
	return cp.uri
}

// Errors yields the pool's transport-error stream. Closed on Shutdown.
func (cp *ConnectionPool) Errors() <-chan error {
	return cp.errors
}

// Disconnected is closed once every member is permanently disconnected.
func (cp *ConnectionPool) Disconnected() <-chan struct{} {
	return cp.disconnected
}

// Shutdown quits every member connection and joins the background monitors.
// Best-effort: individual close failures are logged, never propagated.
// Safe to call more than once.
func (cp *ConnectionPool) Shutdown() {
	if cp == nil {
		return
	}

	cp.shutdownOnce.Do(func() {
		atomic.StoreInt32(&cp.closed, 1)

		wg := &sync.WaitGroup{}
		for _, host := range cp.hosts {
			wg.Add(1)
			go func(host *ConnectionHost) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						logger().Error("recovered panic closing pooled connection",
							"op", "shutdown",
							"error", fmt.Sprint(r))
					}
				}()

				host.Close()
			}(host)
		}
		wg.Wait()

		// All monitors are joined, nothing can write the stream anymore.
		close(cp.errors)
	})
}
