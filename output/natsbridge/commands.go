package natsbridge

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/abossard/vjuniverse/errors"
	"github.com/abossard/vjuniverse/natsclient"
	"github.com/abossard/vjuniverse/osc"
	"github.com/abossard/vjuniverse/pkg/buffer"
)

// SubjectCommand carries OSC-encoded control messages from remote senders.
// Anything a UDP sender can say, a bus publisher can say here: shader loads,
// binding edits, control scalars.
const SubjectCommand = "vj.control.osc"

const commandCapacity = 256

// CommandFeed buffers bus-delivered control messages for the engine to drain
// alongside the UDP receiver. Without a broker it drains empty forever.
type CommandFeed struct {
	logger      *slog.Logger
	buffer      *buffer.Ring[*osc.Message]
	warnLimiter *rate.Limiter

	received atomic.Int64
	rejected atomic.Int64
}

// NewCommandFeed creates a command feed.
func NewCommandFeed(logger *slog.Logger) (*CommandFeed, error) {
	if logger == nil {
		logger = slog.Default().With("component", "command-feed")
	}
	ring, err := buffer.NewRing(commandCapacity,
		buffer.WithOverflowPolicy[*osc.Message](buffer.DropOldest))
	if err != nil {
		return nil, errors.Wrap(err, "CommandFeed", "NewCommandFeed", "buffer creation")
	}
	return &CommandFeed{
		logger:      logger,
		buffer:      ring,
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// Subscribe attaches the feed to the command subject. A nil client is a
// no-op: the feed stays empty and the engine runs on UDP alone.
func (f *CommandFeed) Subscribe(ctx context.Context, client *natsclient.Client) error {
	if client == nil {
		return nil
	}
	return client.Subscribe(ctx, SubjectCommand, f.handle)
}

func (f *CommandFeed) handle(_ context.Context, data []byte) {
	msgs, err := osc.Parse(data)
	if err != nil {
		f.rejected.Add(1)
		if f.warnLimiter.Allow() {
			f.logger.Warn("Bus command decode failed", "bytes", len(data), "error", err)
		}
		return
	}
	for _, msg := range msgs {
		if err := f.buffer.Write(msg); err != nil {
			return
		}
		f.received.Add(1)
	}
}

// Drain returns buffered commands in arrival order, emptying the feed.
func (f *CommandFeed) Drain() []*osc.Message {
	return f.buffer.Drain()
}

// Received returns the number of decoded commands.
func (f *CommandFeed) Received() int64 { return f.received.Load() }

// Rejected returns the number of undecodable payloads.
func (f *CommandFeed) Rejected() int64 { return f.rejected.Load() }
