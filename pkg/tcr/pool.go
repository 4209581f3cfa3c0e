package tcr

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map"
)

// RedisConnectionPool owns a writer pool and a reader pool plus the background
// error monitor. When no replica settings are supplied both pools are built
// from the same settings; that doubles the connection count intentionally to
// separate read and write concurrency even without physical replication.
type RedisConnectionPool struct {
	Config *RedisSeasoning

	WriterPool *ConnectionPool
	ReaderPool *ConnectionPool

	availability  *AvailabilityTracker
	subscriptions cmap.ConcurrentMap
	observer      DurationObserver

	monitorDone chan struct{}
	closeOnce   sync.Once
}

// NewRedisConnectionPool builds the writer pool from the seasoning's
// PoolConfig and the reader pool from ReplicaPoolConfig when present.
func NewRedisConnectionPool(seasoning *RedisSeasoning) (*RedisConnectionPool, error) {
	return NewRedisConnectionPoolWithDialer(seasoning, RueidisDialer{})
}

// NewRedisConnectionPoolWithDialer builds the pools on a caller-supplied Dialer.
func NewRedisConnectionPoolWithDialer(seasoning *RedisSeasoning, dialer Dialer) (*RedisConnectionPool, error) {
	return NewRedisConnectionPoolWithObserver(seasoning, dialer, NoopDurationObserver{})
}

// NewRedisConnectionPoolWithObserver builds the pools with an injected
// duration observer. Both pools are built in parallel; partial success is not
// a valid end state, a pool that did come up is torn down before returning.
func NewRedisConnectionPoolWithObserver(seasoning *RedisSeasoning, dialer Dialer, observer DurationObserver) (*RedisConnectionPool, error) {
	if seasoning == nil || seasoning.PoolConfig == nil {
		return nil, &ConfigurationError{Op: "new pool", Err: errNilPoolConfig}
	}

	writerConfig := seasoning.PoolConfig
	readerConfig := seasoning.PoolConfig
	if seasoning.ReplicaPoolConfig != nil {
		readerConfig = seasoning.ReplicaPoolConfig
	}

	finish := measureDuration(observer, "redis_pool_construction")

	var writerPool, readerPool *ConnectionPool
	var writerErr, readerErr error

	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		writerPool, writerErr = NewConnectionPoolWithDialer(writerConfig, dialer)
	}()
	go func() {
		defer wg.Done()
		readerPool, readerErr = NewConnectionPoolWithDialer(readerConfig, dialer)
	}()
	wg.Wait()
	finish()

	if writerErr != nil || readerErr != nil {
		if writerPool != nil {
			writerPool.Shutdown()
		}
		if readerPool != nil {
			readerPool.Shutdown()
		}

		if writerErr != nil {
			return nil, writerErr
		}
		return nil, readerErr
	}

	rcp := &RedisConnectionPool{
		Config:        seasoning,
		WriterPool:    writerPool,
		ReaderPool:    readerPool,
		availability:  NewAvailabilityTracker(),
		subscriptions: cmap.New(),
		observer:      observer,
		monitorDone:   make(chan struct{}),
	}

	go rcp.monitorErrors()

	return rcp, nil
}

// monitorErrors watches both pools' transport-error streams for the pool's
// lifetime. Every observed error is logged; when either pool transitions to
// fully disconnected the availability flag goes down. The task ends when both
// error streams close, which happens on shutdown.
func (rcp *RedisConnectionPool) monitorErrors() {
	defer close(rcp.monitorDone)

	writerErrors := rcp.WriterPool.Errors()
	readerErrors := rcp.ReaderPool.Errors()
	writerDisconnected := rcp.WriterPool.Disconnected()
	readerDisconnected := rcp.ReaderPool.Disconnected()

	for writerErrors != nil || readerErrors != nil {
		select {
		case err, ok := <-writerErrors:
			if !ok {
				writerErrors = nil
				continue
			}
			logger().Error("writer pool transport error",
				"op", "monitor",
				"error", err.Error())

		case err, ok := <-readerErrors:
			if !ok {
				readerErrors = nil
				continue
			}
			logger().Error("reader pool transport error",
				"op", "monitor",
				"error", err.Error())

		case <-writerDisconnected:
			writerDisconnected = nil
			rcp.availability.MarkUnavailable()
			logger().Error("writer pool fully disconnected, flagging pool unavailable",
				"op", "monitor",
				"uri", rcp.WriterPool.URI())

		case <-readerDisconnected:
			readerDisconnected = nil
			rcp.availability.MarkUnavailable()
			logger().Error("reader pool fully disconnected, flagging pool unavailable",
				"op", "monitor",
				"uri", rcp.ReaderPool.URI())
		}
	}
}

// Writer exposes the writer pool for command dispatch.
func (rcp *RedisConnectionPool) Writer() *ConnectionPool {
	return rcp.WriterPool
}

// Reader exposes the reader pool for command dispatch.
func (rcp *RedisConnectionPool) Reader() *ConnectionPool {
	return rcp.ReaderPool
}

// IsAvailable reports whether the pool was last observed connected. Cheap
// atomic read; callers can short-circuit requests during outages.
func (rcp *RedisConnectionPool) IsAvailable() bool {
	return rcp.availability.IsAvailable()
}

// Subscriptions lists the channels with an active relay.
func (rcp *RedisConnectionPool) Subscriptions() []string {
	return rcp.subscriptions.Keys()
}

// CloseConnections quits the writer pool, then the reader pool, then joins the
// error monitor. Best-effort and terminal: never panics, never returns an
// error, safe to call twice.
func (rcp *RedisConnectionPool) CloseConnections() {
	rcp.closeOnce.Do(func() {
		rcp.WriterPool.Shutdown()
		rcp.ReaderPool.Shutdown()

		<-rcp.monitorDone

		if count := rcp.subscriptions.Count(); count > 0 {
			logger().Info("pool closed with relays still registered, their streams are now closed",
				"op", "close",
				"count", count)
		}
	})
}
