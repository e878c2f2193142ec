package outbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CompletionType is the type field of every completion notification.
const CompletionType = "SYNC_COMPLETE"

// DefaultMaxAttempts caps rejected replays per task before it is dropped.
// Only attempts the origin answered count: a task captured while offline
// waits out any outage without burning attempts.
const DefaultMaxAttempts = 8

// errOriginUnreachable marks a replay that failed at the transport level,
// before the origin saw the request.
var errOriginUnreachable = errors.New("origin unreachable")

// Completion announces a replayed task to subscribers.
type Completion struct {
	Type string `json:"type"`
	Tag  string `json:"tag"`
}

// FlushResult summarizes one replay pass.
type FlushResult struct {
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
	Dropped  int `json:"dropped"`
}

// Config assembles a Coordinator.
type Config struct {
	// Queue is the durable task store.
	Queue *Queue

	// Origin is the transport replays go out on. It must reach the origin
	// directly; routing replays back through the strategy engine would
	// capture them again on failure.
	Origin http.RoundTripper

	// BaseURL is the origin root replayed requests are addressed to, for
	// example "http://localhost:9000".
	BaseURL string

	// MaxAttempts caps replays per task; zero selects DefaultMaxAttempts.
	MaxAttempts int

	// Logger receives capture, replay and drop events.
	Logger zerolog.Logger
}

// Coordinator captures failed mutations and replays them. Flush passes are
// serialized: concurrent triggers (connectivity restore, periodic tick,
// admin) queue up behind each other instead of replaying the same task
// twice in parallel.
type Coordinator struct {
	queue       *Queue
	origin      http.RoundTripper
	base        *url.URL
	maxAttempts int
	logger      zerolog.Logger

	flushMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[string]chan Completion
}

// New validates cfg and builds a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if cfg.Origin == nil {
		return nil, fmt.Errorf("origin transport cannot be nil")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &Coordinator{
		queue:       cfg.Queue,
		origin:      cfg.Origin,
		base:        base,
		maxAttempts: maxAttempts,
		logger:      cfg.Logger,
		subscribers: make(map[string]chan Completion),
	}, nil
}

// Capture persists req for later replay and returns its tag. The body is
// passed separately because the engine has already consumed the request
// stream by the time the failure is known.
func (c *Coordinator) Capture(req *http.Request, body []byte) (string, error) {
	tag := ReplayTag(req.Method, req.URL.Path, body)

	task := &Task{
		Tag:       tag,
		Method:    req.Method,
		Path:      req.URL.Path,
		Query:     req.URL.RawQuery,
		Header:    sanitizeHeader(req.Header),
		Body:      body,
		CreatedAt: time.Now(),
	}
	if err := c.queue.Put(task); err != nil {
		return "", fmt.Errorf("persist replay task: %w", err)
	}

	c.logger.Info().
		Str("tag", tag).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("body_bytes", len(body)).
		Msg("captured mutation for replay")
	return tag, nil
}

// Flush replays every pending task whose tag starts with tagPrefix; an
// empty prefix replays everything. Tasks are attempted once per pass,
// oldest first; failures stay queued for the next trigger.
func (c *Coordinator) Flush(ctx context.Context, tagPrefix string) (FlushResult, error) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	var result FlushResult
	tasks, err := c.queue.List(tagPrefix)
	if err != nil {
		return result, fmt.Errorf("list tasks: %w", err)
	}

	for i := range tasks {
		task := &tasks[i]

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := c.replay(ctx, task); err != nil {
			result.Failed++
			outboxRetries.Inc()

			// Still offline. The task waits untouched; attempts only
			// count when the origin answered and rejected.
			if errors.Is(err, errOriginUnreachable) {
				c.logger.Warn().
					Err(err).
					Str("tag", task.Tag).
					Msg("origin unreachable, task stays queued")
				continue
			}

			task.Attempts++
			task.LastError = err.Error()

			if task.Attempts >= c.maxAttempts {
				c.logger.Error().
					Str("tag", task.Tag).
					Int("attempts", task.Attempts).
					Str("last_error", task.LastError).
					Msg("dropping task after exhausting replay attempts")
				if derr := c.queue.Delete(task.Tag); derr == nil {
					result.Dropped++
					outboxDropped.Inc()
				}
				continue
			}

			c.logger.Warn().
				Err(err).
				Str("tag", task.Tag).
				Int("attempts", task.Attempts).
				Msg("replay rejected, task stays queued")
			if serr := c.queue.Put(task); serr != nil {
				c.logger.Error().Err(serr).Str("tag", task.Tag).Msg("failed to update task attempts")
			}
			continue
		}

		// Delete before announcing: a completion must mean the task is
		// durably gone. If the delete fails the task replays again,
		// which at-least-once delivery permits.
		if derr := c.queue.Delete(task.Tag); derr != nil {
			c.logger.Error().Err(derr).Str("tag", task.Tag).Msg("replayed task could not be removed")
			continue
		}
		result.Replayed++
		outboxCompleted.Inc()
		c.logger.Info().Str("tag", task.Tag).Msg("task replayed")
		c.broadcast(Completion{Type: CompletionType, Tag: task.Tag})
	}

	return result, nil
}

// replay sends one task to the origin. A response counts as done unless the
// origin reports a server error; client errors will not improve with
// retries.
func (c *Coordinator) replay(ctx context.Context, task *Task) error {
	target := *c.base
	target.Path = task.Path
	target.RawQuery = task.Query

	req, err := http.NewRequestWithContext(ctx, task.Method, target.String(), bytes.NewReader(task.Body))
	if err != nil {
		return fmt.Errorf("build replay request: %w", err)
	}
	for key, values := range task.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.origin.RoundTrip(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errOriginUnreachable, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("origin returned %d", resp.StatusCode)
	}
	return nil
}

// OnConnectivityRestored flushes the queue in the background. Wire it to
// the connectivity tracker's restore callbacks.
func (c *Coordinator) OnConnectivityRestored() {
	c.logger.Info().Msg("connectivity restored, flushing replay queue")
	go func() {
		if _, err := c.Flush(context.Background(), ""); err != nil {
			c.logger.Error().Err(err).Msg("replay flush failed")
		}
	}()
}

// RunPeriodic flushes on every tick until ctx is done. It backs the
// restore-triggered flushes up so a task can't get stranded when a restore
// flush fails halfway.
func (c *Coordinator) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := c.queue.Len()
			if err != nil {
				c.logger.Error().Err(err).Msg("failed to count pending tasks")
				continue
			}
			if pending == 0 {
				continue
			}
			if _, err := c.Flush(ctx, ""); err != nil && err != context.Canceled {
				c.logger.Error().Err(err).Msg("periodic flush failed")
			}
		}
	}
}

// Pending returns the queued tasks, oldest first.
func (c *Coordinator) Pending() ([]Task, error) {
	return c.queue.List("")
}

// Subscribe registers a completion listener and returns its id and channel.
// The channel is buffered; subscribers that stop draining miss
// notifications instead of blocking replay.
func (c *Coordinator) Subscribe() (string, <-chan Completion) {
	id := uuid.NewString()
	ch := make(chan Completion, 16)

	c.subMu.Lock()
	c.subscribers[id] = ch
	c.subMu.Unlock()
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (c *Coordinator) Unsubscribe(id string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if ch, ok := c.subscribers[id]; ok {
		delete(c.subscribers, id)
		close(ch)
	}
}

func (c *Coordinator) broadcast(completion Completion) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subscribers {
		select {
		case ch <- completion:
		default:
			c.logger.Warn().Str("subscriber", id).Msg("completion dropped, subscriber not draining")
		}
	}
}

// sanitizeHeader copies h without hop-by-hop fields, which describe one
// connection and must not be replayed on another.
func sanitizeHeader(h http.Header) http.Header {
	hopByHop := map[string]bool{
		"Connection":          true,
		"Keep-Alive":          true,
		"Proxy-Authenticate":  true,
		"Proxy-Authorization": true,
		"Proxy-Connection":    true,
		"Te":                  true,
		"Trailer":             true,
		"Transfer-Encoding":   true,
		"Upgrade":             true,
		"Content-Length":      true,
	}

	out := make(http.Header, len(h))
	for key, values := range h {
		if hopByHop[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, value := range values {
			out.Add(key, value)
		}
	}
	return out
}
