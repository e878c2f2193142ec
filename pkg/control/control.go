// Package control implements the cache control protocol: request/reply
// messages carried over an asynchronous inbox. A single dispatch goroutine
// consumes the inbox, which is what makes a CLEAR_CACHE and a concurrent
// GET_CACHE_SIZE observe each other all-or-nothing.
package control

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ristomat/offline-edge/pkg/cache"
)

// Supported operations.
const (
	// OpSkipWaiting promotes a waiting cache version immediately.
	OpSkipWaiting = "SKIP_WAITING"

	// OpClearCache drops every namespace unconditionally. Used for hard
	// resets: logout, support troubleshooting.
	OpClearCache = "CLEAR_CACHE"

	// OpGetCacheSize reports per-namespace entry counts plus a total.
	// Read-only.
	OpGetCacheSize = "GET_CACHE_SIZE"
)

// Reply is a schemaless reply payload.
type Reply map[string]any

// Message is one control request. Reply, when non-nil, receives the reply;
// it should be buffered, an unready port forfeits its reply. Every
// operation replies exactly once or never: callers own their timeouts,
// this layer does not time control messages out.
type Message struct {
	// ID correlates log lines with the message. Submit fills in a random
	// id when empty.
	ID string

	// Op selects the operation.
	Op string

	// Reply is the reply port. Nil means fire-and-forget.
	Reply chan Reply
}

// SkipWaiter is the lifecycle hook SKIP_WAITING invokes.
type SkipWaiter interface {
	SkipWaiting()
}

// Config assembles a Plane.
type Config struct {
	// Store is the namespace store CLEAR_CACHE and GET_CACHE_SIZE operate
	// on.
	Store cache.Store

	// Lifecycle receives SKIP_WAITING.
	Lifecycle SkipWaiter

	// InboxSize is the inbox buffer. Defaults to 16.
	InboxSize int

	// Logger receives dispatch logs.
	Logger zerolog.Logger
}

// Plane dispatches control messages against the store and the lifecycle.
type Plane struct {
	store     cache.Store
	lifecycle SkipWaiter
	inbox     chan Message
	logger    zerolog.Logger
}

// New validates cfg and builds a Plane. Start must be called before
// submitted messages are consumed.
func New(cfg Config) (*Plane, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle cannot be nil")
	}
	inboxSize := cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = 16
	}

	return &Plane{
		store:     cfg.Store,
		lifecycle: cfg.Lifecycle,
		inbox:     make(chan Message, inboxSize),
		logger:    cfg.Logger,
	}, nil
}

// Submit queues msg for dispatch. It blocks while the inbox is full and
// fails only when ctx expires first.
func (p *Plane) Submit(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	select {
	case p.inbox <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", msg.Op, ctx.Err())
	}
}

// Request submits op with a fresh reply port and waits for the reply. The
// deadline on ctx is the caller-side timeout the protocol requires;
// operations that never reply, unknown ops included, fail with ctx's error.
func (p *Plane) Request(ctx context.Context, op string) (Reply, error) {
	port := make(chan Reply, 1)
	if err := p.Submit(ctx, Message{Op: op, Reply: port}); err != nil {
		return nil, err
	}
	select {
	case reply := <-port:
		return reply, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("await %s reply: %w", op, ctx.Err())
	}
}

// Start consumes the inbox until ctx is cancelled. One message is handled
// at a time.
func (p *Plane) Start(ctx context.Context) {
	p.logger.Info().Msg("control plane started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("control plane stopped")
			return
		case msg := <-p.inbox:
			p.dispatch(ctx, msg)
		}
	}
}

func (p *Plane) dispatch(ctx context.Context, msg Message) {
	messagesTotal.WithLabelValues(msg.Op).Inc()
	logger := p.logger.With().Str("id", msg.ID).Str("op", msg.Op).Logger()

	switch msg.Op {
	case OpSkipWaiting:
		p.lifecycle.SkipWaiting()
		logger.Info().Msg("skip waiting triggered")
		p.send(msg, Reply{})

	case OpClearCache:
		p.send(msg, p.clearCache(ctx, logger))

	case OpGetCacheSize:
		reply, err := p.cacheSize(ctx)
		if err != nil {
			// No error shape in the reply contract; the caller's
			// timeout surfaces this one.
			logger.Error().Err(err).Msg("cache size failed, withholding reply")
			return
		}
		p.send(msg, reply)

	default:
		// No contract for unknown ops, so no reply either.
		logger.Warn().Msg("unknown control op ignored")
	}
}

// clearCache drops all namespaces. The list is collected up front so the
// reply covers exactly the namespaces that existed when the clear began.
func (p *Plane) clearCache(ctx context.Context, logger zerolog.Logger) Reply {
	names, err := p.store.Namespaces(ctx)
	if err != nil {
		return Reply{"success": false, "error": err.Error()}
	}
	for _, name := range names {
		if err := p.store.Drop(ctx, name); err != nil {
			logger.Error().Err(err).Str("namespace", name).Msg("clear cache failed")
			return Reply{"success": false, "error": err.Error()}
		}
	}
	logger.Info().Int("namespaces", len(names)).Msg("cache cleared")
	return Reply{"success": true}
}

// cacheSize reports per-namespace entry counts keyed by namespace id, plus
// a "total" key summing them.
func (p *Plane) cacheSize(ctx context.Context) (Reply, error) {
	names, err := p.store.Namespaces(ctx)
	if err != nil {
		return nil, err
	}

	reply := Reply{}
	total := 0
	for _, name := range names {
		count, err := p.store.Count(ctx, name)
		if err != nil {
			return nil, err
		}
		reply[name] = count
		total += count
	}
	reply["total"] = total
	return reply, nil
}

// send delivers the reply without ever blocking the dispatch loop. A nil
// port is fire-and-forget; a full one forfeits its reply.
func (p *Plane) send(msg Message, reply Reply) {
	if msg.Reply == nil {
		return
	}
	select {
	case msg.Reply <- reply:
	default:
		p.logger.Warn().Str("id", msg.ID).Str("op", msg.Op).Msg("reply port not ready, dropping reply")
	}
}
