package tcr

import (
	"context"
	"errors"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	jsoniter "github.com/json-iterator/go"
)

// Delivery is one decoded pub/sub message handed to a subscriber.
type Delivery[T any] struct {
	Channel    string
	Value      T
	ReceivedAt time.Time
}

// Receiver is the consumer handle of one subscription relay. Deliveries are
// buffered in an unbounded queue in the order the transport produced them.
type Receiver[T any] struct {
	channel string
	q       *queue.Queue
}

// Channel returns the subscribed channel name.
func (r *Receiver[T]) Channel() string {
	return r.channel
}

// Receive blocks for the next delivery. Returns false once the receiver has
// been dropped.
func (r *Receiver[T]) Receive() (Delivery[T], bool) {
	items, err := r.q.Get(1)
	if err != nil {
		return Delivery[T]{}, false
	}

	return items[0].(Delivery[T]), true
}

// Poll waits up to timeout for the next delivery.
func (r *Receiver[T]) Poll(timeout time.Duration) (Delivery[T], bool) {
	items, err := r.q.Poll(1, timeout)
	if err != nil {
		return Delivery[T]{}, false
	}

	return items[0].(Delivery[T]), true
}

// Drop disposes the receive handle. The relay task keeps running, its
// forwards simply start failing silently; there is no unsubscribe primitive.
func (r *Receiver[T]) Drop() {
	r.q.Dispose()
}

// StrDelivery is one raw pub/sub message, no decode step.
type StrDelivery struct {
	Channel string
	Value   string
}

// StrReceiver is the consumer handle of a raw-string subscription relay.
type StrReceiver struct {
	channel string
	q       *queue.Queue
}

// Channel returns the subscribed channel name.
func (r *StrReceiver) Channel() string {
	return r.channel
}

// Receive blocks for the next raw message. Returns false once dropped.
func (r *StrReceiver) Receive() (StrDelivery, bool) {
	items, err := r.q.Get(1)
	if err != nil {
		return StrDelivery{}, false
	}

	return items[0].(StrDelivery), true
}

// Poll waits up to timeout for the next raw message.
func (r *StrReceiver) Poll(timeout time.Duration) (StrDelivery, bool) {
	items, err := r.q.Poll(1, timeout)
	if err != nil {
		return StrDelivery{}, false
	}

	return items[0].(StrDelivery), true
}

// Drop disposes the receive handle.
func (r *StrReceiver) Drop() {
	r.q.Dispose()
}

// SubscribeChannel subscribes to a channel and decodes every string payload
// into T. Decode failures are logged and dropped; they never terminate the
// subscription. Free function because Go methods can't introduce type
// parameters.
func SubscribeChannel[T any](rcp *RedisConnectionPool, channel string) (*Receiver[T], error) {
	q := queue.New(relayQueueHint(rcp))

	err := rcp.startRelay(channel, func(channelName, raw string, receivedAt time.Time) {
		var value T
		if err := jsoniter.ConfigFastest.UnmarshalFromString(raw, &value); err != nil {
			logger().Error("deserialization error, message dropped",
				"op", "relay",
				"channel", channelName,
				"error", err.Error())
			return
		}

		if err := q.Put(Delivery[T]{Channel: channelName, Value: value, ReceivedAt: receivedAt}); err != nil {
			logger().Error("failed to forward message to receiver",
				"op", "relay",
				"channel", channelName,
				"error", forwardError(err).Error())
		}
	})
	if err != nil {
		q.Dispose()
		return nil, err
	}

	return &Receiver[T]{channel: channel, q: q}, nil
}

// SubscribeChannelAsStr subscribes to a channel and forwards raw string
// payloads with no decode step.
func (rcp *RedisConnectionPool) SubscribeChannelAsStr(channel string) (*StrReceiver, error) {
	q := queue.New(relayQueueHint(rcp))

	err := rcp.startRelay(channel, func(channelName, raw string, _ time.Time) {
		if err := q.Put(StrDelivery{Channel: channelName, Value: raw}); err != nil {
			logger().Error("failed to forward message to receiver",
				"op", "relay",
				"channel", channelName,
				"error", forwardError(err).Error())
		}
	})
	if err != nil {
		q.Dispose()
		return nil, err
	}

	return &StrReceiver{channel: channel, q: q}, nil
}

// SubscribeChannelWrapped subscribes to a channel carrying wrapped letter
// payloads and forwards the unwrapped (decrypted, decompressed) bodies.
func (rcp *RedisConnectionPool) SubscribeChannelWrapped(channel string) (*Receiver[[]byte], error) {
	q := queue.New(relayQueueHint(rcp))

	err := rcp.startRelay(channel, func(channelName, raw string, receivedAt time.Time) {
		body, err := UnwrapPayload([]byte(raw), rcp.Config.CompressionConfig, rcp.Config.EncryptionConfig)
		if err != nil {
			logger().Error("failed to unwrap letter payload, message dropped",
				"op", "relay",
				"channel", channelName,
				"error", err.Error())
			return
		}

		if err := q.Put(Delivery[[]byte]{Channel: channelName, Value: body, ReceivedAt: receivedAt}); err != nil {
			logger().Error("failed to forward message to receiver",
				"op", "relay",
				"channel", channelName,
				"error", forwardError(err).Error())
		}
	})
	if err != nil {
		q.Dispose()
		return nil, err
	}

	return &Receiver[[]byte]{channel: channel, q: q}, nil
}

// forwardError translates the queue's dispose error into the package
// sentinel so callers watching logs see one consistent failure name.
func forwardError(err error) error {
	if errors.Is(err, queue.ErrDisposed) {
		return ErrReceiverDisposed
	}

	return err
}

func relayQueueHint(rcp *RedisConnectionPool) int64 {
	if cfg := rcp.ReaderPool.Config; cfg.BroadcastChannelCapacity > 0 {
		return int64(cfg.BroadcastChannelCapacity)
	}

	return 8
}

// startRelay picks a reader connection, issues the subscribe, and spawns the
// relay task pumping that connection's inbound stream into forward.
func (rcp *RedisConnectionPool) startRelay(channel string, forward func(channel, raw string, receivedAt time.Time)) error {
	host, err := rcp.ReaderPool.Next()
	if err != nil {
		return &SubscribeError{Channel: channel, Err: err}
	}

	stream, err := host.Subscribe(context.Background(), channel)
	if err != nil {
		return &SubscribeError{Channel: channel, Err: err}
	}

	rcp.addSubscription(channel)

	sleepOnError := time.Duration(rcp.ReaderPool.Config.SleepOnErrorInterval) * time.Millisecond

	go rcp.relayLoop(channel, stream, sleepOnError, forward)

	return nil
}

// The registry holds a relay count per channel. Subscribing to the same
// channel twice yields two independent relays and the channel stays
// registered until the last one exits.
func (rcp *RedisConnectionPool) addSubscription(channel string) {
	rcp.subscriptions.Upsert(channel, 1, func(exists bool, current interface{}, insert interface{}) interface{} {
		if !exists {
			return insert
		}

		return current.(int) + 1
	})
}

func (rcp *RedisConnectionPool) removeSubscription(channel string) {
	remaining := rcp.subscriptions.Upsert(channel, 0, func(exists bool, current interface{}, _ interface{}) interface{} {
		if !exists {
			return 0
		}

		return current.(int) - 1
	})

	if remaining.(int) <= 0 {
		rcp.subscriptions.RemoveCb(channel, func(_ string, value interface{}, exists bool) bool {
			return !exists || value.(int) <= 0
		})
	}
}

// relayLoop runs until the stream closes for good. A single bad message or a
// transient receive error never terminates it; the short sleep keeps a
// persistently broken stream from hot-looping.
func (rcp *RedisConnectionPool) relayLoop(channel string, stream MessageStream, sleepOnError time.Duration, forward func(channel, raw string, receivedAt time.Time)) {
	defer rcp.removeSubscription(channel)

	for {
		msg, err := stream.Recv(context.Background())
		if err != nil {
			if errors.Is(err, ErrStreamClosed) {
				logger().Info("message stream closed, relay ending",
					"op", "relay",
					"channel", channel)
				return
			}

			logger().Error("error receiving message",
				"op", "relay",
				"channel", channel,
				"error", err.Error())

			if sleepOnError > 0 {
				time.Sleep(sleepOnError)
			}
			continue
		}

		receivedAt := time.Now().UTC()

		switch msg.Value.Kind {
		case ReplyString:
			forward(msg.Channel, msg.Value.Str, receivedAt)

		case ReplyNil:
			logger().Error("received null value, message dropped",
				"op", "relay",
				"channel", msg.Channel)

		default:
			logger().Error("unexpected value shape, message dropped",
				"op", "relay",
				"channel", msg.Channel,
				"kind", int(msg.Value.Kind))
		}
	}
}
