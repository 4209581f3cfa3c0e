package tcr

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/redis/rueidis"
)

// RueidisDialer is the production Dialer built on github.com/redis/rueidis.
// Each pooled connection maps to one rueidis client.
type RueidisDialer struct{}

// Dial establishes a single rueidis client per the resolved ConnectionConfig.
func (RueidisDialer) Dial(ctx context.Context, config *ConnectionConfig) (Connection, error) {
	option := rueidis.ClientOption{
		InitAddress: config.Addresses,
		Username:    config.Username,
		Password:    config.Password,
		ClientName:  config.ClientName,
		TLSConfig:   config.TLS,
		AlwaysRESP2: config.UseLegacyVersion,
		Dialer:      net.Dialer{Timeout: config.ConnectionTimeout},
	}

	if config.ClusterMode {
		option.ShuffleInit = true
	} else {
		option.SelectDB = config.Database
		option.ForceSingleClient = true
	}

	// Client-side caching rides on RESP3 push frames.
	if config.UseLegacyVersion {
		option.DisableCache = true
	}

	client, err := rueidis.NewClient(option)
	if err != nil {
		return nil, err
	}

	if config.TracingEnabled {
		logger().Debug("connection established",
			"op", "dial",
			"uri", config.URI)
	}

	return &rueidisConnection{client: client, config: config}, nil
}

type rueidisConnection struct {
	client    rueidis.Client
	config    *ConnectionConfig
	closeOnce sync.Once
}

func (rc *rueidisConnection) Command(ctx context.Context, args ...string) (*Reply, error) {
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}

	if IsBlockingCommand(args[0]) {
		return nil, ErrBlockingCommand
	}

	result := rc.client.Do(ctx, rc.client.B().Arbitrary(args...).Build())
	if err := result.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return NilReply(), nil
		}
		return nil, err
	}

	message, err := result.ToMessage()
	if err != nil {
		return nil, err
	}

	return convertMessage(&message), nil
}

func convertMessage(msg *rueidis.RedisMessage) *Reply {
	switch {
	case msg.IsNil():
		return NilReply()

	case msg.IsInt64():
		n, err := msg.ToInt64()
		if err != nil {
			return &Reply{Kind: ReplyOther}
		}
		return &Reply{Kind: ReplyInt, Int: n}

	case msg.IsArray():
		elements, err := msg.ToArray()
		if err != nil {
			return &Reply{Kind: ReplyOther}
		}

		reply := &Reply{Kind: ReplyArray, Elems: make([]*Reply, 0, len(elements))}
		for i := range elements {
			reply.Elems = append(reply.Elems, convertMessage(&elements[i]))
		}
		return reply

	default:
		str, err := msg.ToString()
		if err != nil {
			return &Reply{Kind: ReplyOther}
		}
		return StringReply(str)
	}
}

func (rc *rueidisConnection) Publish(ctx context.Context, channel string, payload []byte) error {
	return rc.client.Do(ctx, rc.client.B().Publish().Channel(channel).Message(string(payload)).Build()).Error()
}

func (rc *rueidisConnection) Ping(ctx context.Context) error {
	return rc.client.Do(ctx, rc.client.B().Ping().Build()).Error()
}

// Subscribe dedicates one client session to the channel and adapts the rueidis
// push hooks into a MessageStream. The hook buffer is sized by the broadcast
// channel capacity; messages beyond the buffer are dropped, not blocked on.
func (rc *rueidisConnection) Subscribe(ctx context.Context, channel string) (MessageStream, error) {
	dedicated, cancel := rc.client.Dedicate()

	capacity := rc.config.BroadcastChannelCapacity
	if capacity < 1 {
		capacity = 1
	}

	stream := &rueidisStream{
		messages: make(chan *ChannelMessage, capacity),
		cancel:   cancel,
	}

	stream.wait = dedicated.SetPubSubHooks(rueidis.PubSubHooks{
		OnMessage: func(m rueidis.PubSubMessage) {
			select {
			case stream.messages <- &ChannelMessage{Channel: m.Channel, Value: StringReply(m.Message)}:
			default:
				logger().Error("broadcast buffer full, message dropped",
					"op", "subscribe",
					"channel", m.Channel)
			}
		},
	})

	err := dedicated.Do(ctx, dedicated.B().Subscribe().Channel(channel).Build()).Error()
	if err != nil {
		cancel()
		return nil, err
	}

	return stream, nil
}

type rueidisStream struct {
	messages  chan *ChannelMessage
	wait      <-chan error
	cancel    func()
	closeOnce sync.Once
}

func (rs *rueidisStream) Recv(ctx context.Context) (*ChannelMessage, error) {
	select {
	case msg := <-rs.messages:
		return msg, nil
	case err := <-rs.wait:
		if err != nil {
			logger().Error("pub/sub hooks deactivated",
				"op", "recv",
				"error", err.Error())
		}
		return nil, ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (rs *rueidisStream) Close() {
	rs.closeOnce.Do(rs.cancel)
}

func (rc *rueidisConnection) Close() {
	rc.closeOnce.Do(rc.client.Close)
}
