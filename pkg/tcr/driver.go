package tcr

import (
	"context"
	"crypto/tls"
	"strings"
	"time"
)

// ConnectionConfig is the fully resolved endpoint plus the driver options one
// pooled connection is dialed with. Produced by ParseConnectionURI.
type ConnectionConfig struct {
	URI                      string
	Addresses                []string
	ClusterMode              bool
	Database                 int
	Username                 string
	Password                 string
	ClientName               string
	UseLegacyVersion         bool
	TracingEnabled           bool
	BroadcastChannelCapacity int
	ConnectionTimeout        time.Duration
	TLS                      *tls.Config
}

// Dialer establishes a single connection to the key-value store.
type Dialer interface {
	Dial(ctx context.Context, config *ConnectionConfig) (Connection, error)
}

// Connection is the driver primitive a pooled connection wraps.
type Connection interface {
	// Command issues one command and returns its reply.
	Command(ctx context.Context, args ...string) (*Reply, error)

	// Publish sends a payload to a pub/sub channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers for a channel and yields the connection's inbound
	// message stream. The stream closes when the connection dies.
	Subscribe(ctx context.Context, channel string) (MessageStream, error)

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	// Close quits the connection. Safe to call more than once.
	Close()
}

// MessageStream is the raw inbound pub/sub message stream of one connection.
type MessageStream interface {
	// Recv blocks for the next message. Returns ErrStreamClosed once the
	// underlying connection is gone for good.
	Recv(ctx context.Context) (*ChannelMessage, error)

	// Close tears the stream down.
	Close()
}

// ChannelMessage is one raw pub/sub message as received off the wire.
type ChannelMessage struct {
	Channel string
	Value   *Reply
}

// ReplyKind discriminates the shape of a Reply.
type ReplyKind int

const (
	ReplyString ReplyKind = iota
	ReplyInt
	ReplyArray
	ReplyNil
	ReplyOther
)

// Reply is a minimal command/message reply tree.
type Reply struct {
	Kind  ReplyKind
	Str   string
	Int   int64
	Elems []*Reply
}

// StringReply builds a string Reply. Test and driver helper.
func StringReply(s string) *Reply { return &Reply{Kind: ReplyString, Str: s} }

// NilReply builds a nil Reply.
func NilReply() *Reply { return &Reply{Kind: ReplyNil} }

// blockingCommands are rejected on pooled connections, one blocked connection
// starves the whole pool.
var blockingCommands = map[string]struct{}{
	"BLPOP":      {},
	"BRPOP":      {},
	"BLMOVE":     {},
	"BLMPOP":     {},
	"BRPOPLPUSH": {},
	"BZPOPMIN":   {},
	"BZPOPMAX":   {},
	"BZMPOP":     {},
	"WAIT":       {},
}

// IsBlockingCommand reports whether the named command would block the connection.
func IsBlockingCommand(name string) bool {
	_, found := blockingCommands[strings.ToUpper(name)]
	return found
}
