package tcr

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConnectionPoolWithZeroConnections(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.PoolSize = 0

	cp, err := NewConnectionPoolWithDialer(cfg, newMemDialer())
	assert.Nil(t, cp)
	assert.Error(t, err)
}

func TestCreateConnectionPoolDialsPoolSizeConnections(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := DefaultPoolConfig()
	cfg.PoolSize = 4

	dialer := newMemDialer()
	cp, err := NewConnectionPoolWithDialer(cfg, dialer)
	require.NoError(t, err)
	defer cp.Shutdown()

	assert.Equal(t, 4, cp.ConnectionCount())
	assert.Equal(t, int64(4), cp.LiveConnectionCount())
	assert.Equal(t, 4, dialer.dialCount())
}

func TestCreateConnectionPoolAllOrNothing(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := DefaultPoolConfig()
	cfg.PoolSize = 4

	dialer := newMemDialer()
	dialer.failDials = 1 // one bad dial fails the whole build

	cp, err := NewConnectionPoolWithDialer(cfg, dialer)
	assert.Nil(t, cp)
	require.Error(t, err)

	var connErr *ConnectionError
	assert.ErrorAs(t, err, &connErr)
	assert.Equal(t, "redis://localhost:6379/0", connErr.URI)
}

func TestCreateConnectionPoolDefaultsOmittedIntervals(t *testing.T) {
	defer leaktest.Check(t)()

	// A config built by hand (or a sparse config file) can leave the
	// intervals at zero; the pool fills them in instead of panicking the
	// heartbeat ticker or dialing with an expired deadline.
	cfg := &PoolConfig{
		Host:     "localhost",
		Port:     6379,
		PoolSize: 1,
	}
	require.NoError(t, cfg.Validate())

	cp, err := NewConnectionPoolWithDialer(cfg, newMemDialer())
	require.NoError(t, err)
	defer cp.Shutdown()

	assert.Equal(t, uint32(1000), cp.Config.HeartbeatInterval)
	assert.Equal(t, uint32(5000), cp.Config.ConnectionTimeout)

	host, err := cp.Next()
	require.NoError(t, err)

	_, err = host.Command(context.Background(), "PING")
	assert.NoError(t, err)
}

func TestConnectionPoolNextRoundRobins(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := DefaultPoolConfig()
	cfg.PoolSize = 3

	cp, err := NewConnectionPoolWithDialer(cfg, newMemDialer())
	require.NoError(t, err)
	defer cp.Shutdown()

	seen := make(map[*ConnectionHost]int)
	for i := 0; i < 6; i++ {
		host, err := cp.Next()
		require.NoError(t, err)
		seen[host]++
	}

	require.Len(t, seen, 3)
	for _, count := range seen {
		assert.Equal(t, 2, count)
	}
}

func TestConnectionPoolNextAfterShutdown(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.PoolSize = 1

	cp, err := NewConnectionPoolWithDialer(cfg, newMemDialer())
	require.NoError(t, err)

	cp.Shutdown()

	_, err = cp.Next()
	assert.ErrorIs(t, err, ErrConnectionPoolClosed)
}

func TestConnectionPoolShutdownIsIdempotent(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := DefaultPoolConfig()
	cfg.PoolSize = 2

	cp, err := NewConnectionPoolWithDialer(cfg, newMemDialer())
	require.NoError(t, err)

	cp.Shutdown()
	cp.Shutdown()
}

func TestConnectionPoolRecoversFromTransientFailure(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := DefaultPoolConfig()
	cfg.PoolSize = 1
	cfg.HeartbeatInterval = 10
	cfg.ReconnectDelayInterval = 5
	cfg.ReconnectMaxAttempts = 10

	dialer := newMemDialer()
	cp, err := NewConnectionPoolWithDialer(cfg, dialer)
	require.NoError(t, err)
	defer cp.Shutdown()

	dialer.breakAll()

	// The heartbeat notices, the host redials and lands back on Connected.
	require.Eventually(t, func() bool {
		return dialer.dialCount() > 1
	}, 2*time.Second, 5*time.Millisecond)

	host, err := cp.Next()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return host.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	_, err = host.Command(context.Background(), "PING")
	assert.NoError(t, err)
}

func TestConnectionPoolSignalsDisconnectedWhenExhausted(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := DefaultPoolConfig()
	cfg.PoolSize = 1
	cfg.HeartbeatInterval = 10
	cfg.ReconnectDelayInterval = 5
	cfg.ReconnectMaxAttempts = 2

	dialer := newMemDialer()
	cp, err := NewConnectionPoolWithDialer(cfg, dialer)
	require.NoError(t, err)
	defer cp.Shutdown()

	// Every redial refused from here on - the policy runs out.
	dialer.mu.Lock()
	dialer.failDials = 1 << 30
	dialer.mu.Unlock()
	dialer.breakAll()

	select {
	case <-cp.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("pool never signalled full disconnection")
	}

	assert.Equal(t, int64(0), cp.LiveConnectionCount())
}

func TestConnectionPoolLiveCountSurvivesSingleAbandon(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := DefaultPoolConfig()
	cfg.PoolSize = 2
	cfg.HeartbeatInterval = 10
	cfg.ReconnectDelayInterval = 5
	cfg.ReconnectMaxAttempts = 2

	dialer := newMemDialer()
	cp, err := NewConnectionPoolWithDialer(cfg, dialer)
	require.NoError(t, err)
	defer cp.Shutdown()

	require.Equal(t, int64(2), cp.LiveConnectionCount())

	// One member loses its connection and can never redial; the other
	// stays healthy. The count lands on exactly one, never below, and the
	// pool does not claim aggregate disconnection.
	dialer.mu.Lock()
	dialer.failDials = 1 << 30
	dialer.mu.Unlock()
	dialer.breakFirst()

	require.Eventually(t, func() bool {
		return cp.LiveConnectionCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), cp.LiveConnectionCount())

	select {
	case <-cp.Disconnected():
		t.Fatal("pool signalled disconnection with a live member remaining")
	default:
	}
}

func TestConnectionHostRejectsBlockingCommands(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := DefaultPoolConfig()
	cfg.PoolSize = 1

	cp, err := NewConnectionPoolWithDialer(cfg, newMemDialer())
	require.NoError(t, err)
	defer cp.Shutdown()

	host, err := cp.Next()
	require.NoError(t, err)

	_, err = host.Command(context.Background(), "BLPOP", "queue", "0")
	assert.ErrorIs(t, err, ErrBlockingCommand)
}
