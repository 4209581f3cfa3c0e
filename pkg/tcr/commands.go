package tcr

import (
	"context"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

// StreamEntry is a single entry read off a stream.
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// SetKey writes a string value under key with the configured DefaultTTL.
func (rcp *RedisConnectionPool) SetKey(ctx context.Context, key string, value string) error {

	return rcp.SetKeyWithTTL(ctx, key, value, rcp.Config.PoolConfig.DefaultTTL)
}

// SetKeyWithTTL writes a string value under key with an explicit TTL in seconds.
// A zero ttl stores the key without expiry.
func (rcp *RedisConnectionPool) SetKeyWithTTL(ctx context.Context, key string, value string, ttl uint32) error {
	defer measureDuration(rcp.observer, "redis_set_key")()

	host, err := rcp.WriterPool.Next()
	if err != nil {
		return err
	}

	args := []string{"SET", key, value}
	if ttl > 0 {
		args = append(args, "EX", strconv.FormatUint(uint64(ttl), 10))
	}

	_, err = host.Command(ctx, args...)
	return err
}

// SetKeyIfNotExists writes a string value only when the key is absent, with a TTL
// in seconds. Returns true when the key was set.
func (rcp *RedisConnectionPool) SetKeyIfNotExists(ctx context.Context, key string, value string, ttl uint32) (bool, error) {
	defer measureDuration(rcp.observer, "redis_set_key_nx")()

	host, err := rcp.WriterPool.Next()
	if err != nil {
		return false, err
	}

	args := []string{"SET", key, value, "NX"}
	if ttl > 0 {
		args = append(args, "EX", strconv.FormatUint(uint64(ttl), 10))
	}

	reply, err := host.Command(ctx, args...)
	if err != nil {
		return false, err
	}

	// SET ... NX replies nil when the key already existed.
	return reply.Kind != ReplyNil, nil
}

// GetKey reads a string value by key off the reader pool. A missing key
// yields ErrKeyNotFound.
func (rcp *RedisConnectionPool) GetKey(ctx context.Context, key string) (string, error) {
	defer measureDuration(rcp.observer, "redis_get_key")()

	host, err := rcp.ReaderPool.Next()
	if err != nil {
		return "", err
	}

	reply, err := host.Command(ctx, "GET", key)
	if err != nil {
		return "", err
	}
	if reply.Kind == ReplyNil {
		return "", ErrKeyNotFound
	}

	return reply.Str, nil
}

// SetTypedKey marshals value as JSON and stores it under key with the configured DefaultTTL.
func SetTypedKey[T any](rcp *RedisConnectionPool, ctx context.Context, key string, value T) error {

	var json = jsoniter.ConfigFastest
	data, err := json.MarshalToString(&value)
	if err != nil {
		return err
	}

	return rcp.SetKey(ctx, key, data)
}

// GetTypedKey reads the value stored under key and unmarshals the JSON into T.
// A missing key yields ErrKeyNotFound.
func GetTypedKey[T any](rcp *RedisConnectionPool, ctx context.Context, key string) (T, error) {

	var out T
	raw, err := rcp.GetKey(ctx, key)
	if err != nil {
		return out, err
	}

	var json = jsoniter.ConfigFastest
	if err := json.UnmarshalFromString(raw, &out); err != nil {
		return out, fmt.Errorf("key %q holds malformed payload: %w", key, err)
	}

	return out, nil
}

// DeleteKey removes one or more keys and returns how many existed.
func (rcp *RedisConnectionPool) DeleteKey(ctx context.Context, keys ...string) (int64, error) {
	defer measureDuration(rcp.observer, "redis_delete_key")()

	if len(keys) == 0 {
		return 0, nil
	}

	host, err := rcp.WriterPool.Next()
	if err != nil {
		return 0, err
	}

	reply, err := host.Command(ctx, append([]string{"DEL"}, keys...)...)
	if err != nil {
		return 0, err
	}

	return reply.Int, nil
}

// KeyExists reports whether key is present, read off the reader pool.
func (rcp *RedisConnectionPool) KeyExists(ctx context.Context, key string) (bool, error) {
	defer measureDuration(rcp.observer, "redis_key_exists")()

	host, err := rcp.ReaderPool.Next()
	if err != nil {
		return false, err
	}

	reply, err := host.Command(ctx, "EXISTS", key)
	if err != nil {
		return false, err
	}

	return reply.Int > 0, nil
}

// ExpireKey sets a TTL in seconds on an existing key. Returns false when the key is absent.
func (rcp *RedisConnectionPool) ExpireKey(ctx context.Context, key string, seconds uint32) (bool, error) {
	defer measureDuration(rcp.observer, "redis_expire_key")()

	host, err := rcp.WriterPool.Next()
	if err != nil {
		return false, err
	}

	reply, err := host.Command(ctx, "EXPIRE", key, strconv.FormatUint(uint64(seconds), 10))
	if err != nil {
		return false, err
	}

	return reply.Int == 1, nil
}

// IncrementKey atomically increments the integer stored at key and returns the new value.
func (rcp *RedisConnectionPool) IncrementKey(ctx context.Context, key string) (int64, error) {
	defer measureDuration(rcp.observer, "redis_increment_key")()

	host, err := rcp.WriterPool.Next()
	if err != nil {
		return 0, err
	}

	reply, err := host.Command(ctx, "INCR", key)
	if err != nil {
		return 0, err
	}

	return reply.Int, nil
}

// SetHashField writes a single field on a hash and refreshes the hash's DefaultHashTTL.
func (rcp *RedisConnectionPool) SetHashField(ctx context.Context, key string, field string, value string) error {

	return rcp.SetHashFields(ctx, key, map[string]string{field: value})
}

// SetHashFields writes fields on a hash and refreshes the hash's DefaultHashTTL.
func (rcp *RedisConnectionPool) SetHashFields(ctx context.Context, key string, fields map[string]string) error {
	defer measureDuration(rcp.observer, "redis_set_hash_fields")()

	if len(fields) == 0 {
		return nil
	}

	host, err := rcp.WriterPool.Next()
	if err != nil {
		return err
	}

	args := make([]string, 0, 2+len(fields)*2)
	args = append(args, "HSET", key)
	for field, value := range fields {
		args = append(args, field, value)
	}

	if _, err = host.Command(ctx, args...); err != nil {
		return err
	}

	if ttl := rcp.Config.PoolConfig.DefaultHashTTL; ttl > 0 {
		_, err = host.Command(ctx, "EXPIRE", key, strconv.FormatUint(uint64(ttl), 10))
	}

	return err
}

// GetHashField reads a single hash field off the reader pool. A missing
// field yields ErrKeyNotFound.
func (rcp *RedisConnectionPool) GetHashField(ctx context.Context, key string, field string) (string, error) {
	defer measureDuration(rcp.observer, "redis_get_hash_field")()

	host, err := rcp.ReaderPool.Next()
	if err != nil {
		return "", err
	}

	reply, err := host.Command(ctx, "HGET", key, field)
	if err != nil {
		return "", err
	}
	if reply.Kind == ReplyNil {
		return "", ErrKeyNotFound
	}

	return reply.Str, nil
}

// GetAllHashFields reads every field of a hash off the reader pool.
func (rcp *RedisConnectionPool) GetAllHashFields(ctx context.Context, key string) (map[string]string, error) {
	defer measureDuration(rcp.observer, "redis_get_all_hash_fields")()

	host, err := rcp.ReaderPool.Next()
	if err != nil {
		return nil, err
	}

	reply, err := host.Command(ctx, "HGETALL", key)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(reply.Elems)/2)
	for i := 0; i+1 < len(reply.Elems); i += 2 {
		fields[reply.Elems[i].Str] = reply.Elems[i+1].Str
	}

	return fields, nil
}

// AddToStream appends an entry to a stream with a server-assigned ID and returns the ID.
func (rcp *RedisConnectionPool) AddToStream(ctx context.Context, stream string, fields map[string]string) (string, error) {
	defer measureDuration(rcp.observer, "redis_add_to_stream")()

	host, err := rcp.WriterPool.Next()
	if err != nil {
		return "", err
	}

	args := make([]string, 0, 3+len(fields)*2)
	args = append(args, "XADD", stream, "*")
	for field, value := range fields {
		args = append(args, field, value)
	}

	reply, err := host.Command(ctx, args...)
	if err != nil {
		return "", err
	}

	return reply.Str, nil
}

// ReadStream reads entries from a stream after fromID ("0" for the start),
// batched by the configured StreamReadCount.
func (rcp *RedisConnectionPool) ReadStream(ctx context.Context, stream string, fromID string) ([]StreamEntry, error) {
	defer measureDuration(rcp.observer, "redis_read_stream")()

	host, err := rcp.ReaderPool.Next()
	if err != nil {
		return nil, err
	}

	if fromID == "" {
		fromID = "0"
	}

	count := rcp.Config.PoolConfig.StreamReadCount
	if count <= 0 {
		count = 100
	}

	reply, err := host.Command(ctx, "XREAD", "COUNT", strconv.FormatInt(count, 10), "STREAMS", stream, fromID)
	if err != nil {
		return nil, err
	}
	if reply.Kind == ReplyNil {
		return nil, nil
	}

	return parseStreamReply(reply, stream)
}

// parseStreamReply walks the nested XREAD reply:
// [[stream, [[id, [k, v, ...]], ...]], ...]
func parseStreamReply(reply *Reply, stream string) ([]StreamEntry, error) {

	var entries []StreamEntry
	for _, streamBlock := range reply.Elems {
		if len(streamBlock.Elems) != 2 || streamBlock.Elems[0].Str != stream {
			continue
		}

		for _, rawEntry := range streamBlock.Elems[1].Elems {
			if len(rawEntry.Elems) != 2 {
				return nil, fmt.Errorf("stream %q returned a malformed entry", stream)
			}

			entry := StreamEntry{
				ID:     rawEntry.Elems[0].Str,
				Fields: make(map[string]string),
			}
			kvs := rawEntry.Elems[1].Elems
			for i := 0; i+1 < len(kvs); i += 2 {
				entry.Fields[kvs[i].Str] = kvs[i+1].Str
			}

			entries = append(entries, entry)
		}
	}

	return entries, nil
}

// PublishMessage publishes a raw payload to a broadcast channel over the writer pool.
func (rcp *RedisConnectionPool) PublishMessage(ctx context.Context, channel string, payload []byte) error {
	defer measureDuration(rcp.observer, "redis_publish")()

	host, err := rcp.WriterPool.Next()
	if err != nil {
		return err
	}

	return host.Publish(ctx, channel, payload)
}

// PublishLetter publishes a letter's body to the channel on its envelope.
func (rcp *RedisConnectionPool) PublishLetter(ctx context.Context, letter *Letter) error {

	return rcp.PublishMessage(ctx, letter.Envelope.Channel, letter.Body)
}
