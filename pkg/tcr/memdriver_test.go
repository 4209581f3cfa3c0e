package tcr

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
)

// memStore is the shared backing state for every connection a memDialer hands out.
type memStore struct {
	mu          sync.Mutex
	keys        map[string]string
	hashes      map[string]map[string]string
	streams     map[string][]StreamEntry
	streamSeq   int64
	subscribers map[string][]chan *ChannelMessage
	published   map[string][][]byte
}

func newMemStore() *memStore {
	return &memStore{
		keys:        make(map[string]string),
		hashes:      make(map[string]map[string]string),
		streams:     make(map[string][]StreamEntry),
		subscribers: make(map[string][]chan *ChannelMessage),
		published:   make(map[string][][]byte),
	}
}

func (s *memStore) publish(channel string, payload []byte) {
	s.mu.Lock()
	s.published[channel] = append(s.published[channel], payload)
	s.mu.Unlock()

	s.publishReply(channel, StringReply(string(payload)))
}

// publishReply fans an arbitrary reply shape out to subscribers, letting
// tests exercise how relays handle non-string values.
func (s *memStore) publishReply(channel string, value *Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscribers[channel] {
		select {
		case sub <- &ChannelMessage{Channel: channel, Value: value}:
		default:
		}
	}
}

func (s *memStore) subscribe(channel string) chan *ChannelMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := make(chan *ChannelMessage, 64)
	s.subscribers[channel] = append(s.subscribers[channel], sub)
	return sub
}

// memDialer is an in-memory stand-in for the real driver with dial and
// ping failure injection.
type memDialer struct {
	mu        sync.Mutex
	store     *memStore
	dials     int
	failDials int    // fail this many dials before succeeding
	failHost  string // every dial to this host:port fails
	conns     []*memConnection
}

func newMemDialer() *memDialer {
	return &memDialer{store: newMemStore()}
}

func (d *memDialer) Dial(_ context.Context, config *ConnectionConfig) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failHost != "" {
		for _, addr := range config.Addresses {
			if addr == d.failHost {
				return nil, errors.New("dial refused")
			}
		}
	}
	if d.failDials > 0 {
		d.failDials--
		return nil, errors.New("dial refused")
	}

	conn := &memConnection{store: d.store}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *memDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *memDialer) openConnections() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	open := 0
	for _, conn := range d.conns {
		conn.mu.Lock()
		if !conn.closed {
			open++
		}
		conn.mu.Unlock()
	}
	return open
}

// closeFirstSubscribed closes the first connection carrying a subscribe
// stream, ending only the relays bound to it.
func (d *memDialer) closeFirstSubscribed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, conn := range d.conns {
		conn.mu.Lock()
		subscribed := len(conn.streams) > 0
		conn.mu.Unlock()
		if subscribed {
			conn.Close()
			return true
		}
	}
	return false
}

// breakFirst makes a single connection fail its next ping while the
// rest of the pool stays healthy.
func (d *memDialer) breakFirst() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) > 0 {
		d.conns[0].setBroken(true)
	}
}

// breakAll makes every live connection fail its next ping.
func (d *memDialer) breakAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, conn := range d.conns {
		conn.setBroken(true)
	}
}

type memConnection struct {
	store   *memStore
	mu      sync.Mutex
	broken  bool
	closed  bool
	streams []*memStream
}

func (c *memConnection) setBroken(broken bool) {
	c.mu.Lock()
	c.broken = broken
	c.mu.Unlock()
}

func (c *memConnection) healthy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	if c.broken {
		return errors.New("connection reset")
	}
	return nil
}

func (c *memConnection) Ping(_ context.Context) error {
	return c.healthy()
}

func (c *memConnection) Publish(_ context.Context, channel string, payload []byte) error {
	if err := c.healthy(); err != nil {
		return err
	}
	c.store.publish(channel, payload)
	return nil
}

func (c *memConnection) Subscribe(_ context.Context, channel string) (MessageStream, error) {
	if err := c.healthy(); err != nil {
		return nil, err
	}

	stream := &memStream{messages: c.store.subscribe(channel), done: make(chan struct{})}
	c.mu.Lock()
	c.streams = append(c.streams, stream)
	c.mu.Unlock()
	return stream, nil
}

// Close ends the connection and with it every stream it handed out,
// mirroring how closing a real client tears down its dedicated connections.
func (c *memConnection) Close() {
	c.mu.Lock()
	c.closed = true
	streams := c.streams
	c.streams = nil
	c.mu.Unlock()

	for _, stream := range streams {
		stream.Close()
	}
}

func (c *memConnection) Command(_ context.Context, args ...string) (*Reply, error) {
	if err := c.healthy(); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.ToUpper(args[0]) {
	case "PING":
		return StringReply("PONG"), nil

	case "SET":
		key, value := args[1], args[2]
		if len(args) > 3 && strings.EqualFold(args[3], "NX") {
			if _, exists := s.keys[key]; exists {
				return NilReply(), nil
			}
		}
		s.keys[key] = value
		return StringReply("OK"), nil

	case "GET":
		value, ok := s.keys[args[1]]
		if !ok {
			return NilReply(), nil
		}
		return StringReply(value), nil

	case "DEL":
		var removed int64
		for _, key := range args[1:] {
			if _, ok := s.keys[key]; ok {
				delete(s.keys, key)
				removed++
			}
			if _, ok := s.hashes[key]; ok {
				delete(s.hashes, key)
				removed++
			}
		}
		return &Reply{Kind: ReplyInt, Int: removed}, nil

	case "EXISTS":
		var found int64
		if _, ok := s.keys[args[1]]; ok {
			found = 1
		}
		return &Reply{Kind: ReplyInt, Int: found}, nil

	case "EXPIRE":
		var set int64
		if _, ok := s.keys[args[1]]; ok {
			set = 1
		}
		if _, ok := s.hashes[args[1]]; ok {
			set = 1
		}
		return &Reply{Kind: ReplyInt, Int: set}, nil

	case "INCR":
		current, _ := strconv.ParseInt(s.keys[args[1]], 10, 64)
		current++
		s.keys[args[1]] = strconv.FormatInt(current, 10)
		return &Reply{Kind: ReplyInt, Int: current}, nil

	case "HSET":
		key := args[1]
		if s.hashes[key] == nil {
			s.hashes[key] = make(map[string]string)
		}
		var added int64
		for i := 2; i+1 < len(args); i += 2 {
			if _, ok := s.hashes[key][args[i]]; !ok {
				added++
			}
			s.hashes[key][args[i]] = args[i+1]
		}
		return &Reply{Kind: ReplyInt, Int: added}, nil

	case "HGET":
		value, ok := s.hashes[args[1]][args[2]]
		if !ok {
			return NilReply(), nil
		}
		return StringReply(value), nil

	case "HGETALL":
		reply := &Reply{Kind: ReplyArray}
		for field, value := range s.hashes[args[1]] {
			reply.Elems = append(reply.Elems, StringReply(field), StringReply(value))
		}
		return reply, nil

	case "XADD":
		stream := args[1]
		s.streamSeq++
		id := strconv.FormatInt(s.streamSeq, 10) + "-0"
		entry := StreamEntry{ID: id, Fields: make(map[string]string)}
		for i := 3; i+1 < len(args); i += 2 {
			entry.Fields[args[i]] = args[i+1]
		}
		s.streams[stream] = append(s.streams[stream], entry)
		return StringReply(id), nil

	case "XREAD":
		// XREAD COUNT n STREAMS stream id
		stream := args[4]
		entries := s.streams[stream]
		if len(entries) == 0 {
			return NilReply(), nil
		}
		entriesReply := &Reply{Kind: ReplyArray}
		for _, entry := range entries {
			kvs := &Reply{Kind: ReplyArray}
			for field, value := range entry.Fields {
				kvs.Elems = append(kvs.Elems, StringReply(field), StringReply(value))
			}
			entriesReply.Elems = append(entriesReply.Elems, &Reply{
				Kind:  ReplyArray,
				Elems: []*Reply{StringReply(entry.ID), kvs},
			})
		}
		return &Reply{Kind: ReplyArray, Elems: []*Reply{
			{Kind: ReplyArray, Elems: []*Reply{StringReply(stream), entriesReply}},
		}}, nil

	default:
		return nil, errors.New("unsupported command: " + args[0])
	}
}

type memStream struct {
	messages chan *ChannelMessage
	done     chan struct{}
	once     sync.Once
}

func (ms *memStream) Recv(ctx context.Context) (*ChannelMessage, error) {
	select {
	case <-ms.done:
		return nil, ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-ms.messages:
		return msg, nil
	}
}

func (ms *memStream) Close() {
	ms.once.Do(func() { close(ms.done) })
}

func testSeasoning() *RedisSeasoning {
	poolConfig := DefaultPoolConfig()
	poolConfig.PoolSize = 2
	poolConfig.ReconnectMaxAttempts = 2
	poolConfig.ReconnectDelayInterval = 5
	poolConfig.HeartbeatInterval = 10
	poolConfig.SleepOnErrorInterval = 1

	return &RedisSeasoning{
		PoolConfig:        poolConfig,
		CompressionConfig: &CompressionConfig{},
		EncryptionConfig:  &EncryptionConfig{},
		PublisherConfig:   &PublisherConfig{PublishTimeout: 1000},
	}
}
