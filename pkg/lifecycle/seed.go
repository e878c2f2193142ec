package lifecycle

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ristomat/offline-edge/pkg/cache"
)

// SeederConfig assembles a Seeder.
type SeederConfig struct {
	// Store receives the seeded entries.
	Store cache.Store

	// Origin is the transport the shell is fetched through.
	Origin http.RoundTripper

	// BaseURL resolves the relative manifest paths, e.g. http://localhost:3000.
	BaseURL string

	// MaxConcurrency is the number of parallel fetch workers. Defaults to 4.
	MaxConcurrency int

	// FetchTimeout bounds each individual fetch attempt. Defaults to 15s.
	FetchTimeout time.Duration

	// MaxAttempts is how often a single URL is tried before the whole seed
	// fails. Defaults to 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry, doubled per
	// attempt up to MaxBackoff. Defaults to 500ms / 5s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Logger receives per-URL fetch progress.
	Logger zerolog.Logger
}

// Seeder fills a bootstrap namespace from a manifest of shell URLs. The
// seed is all or nothing: every URL is fetched first, in parallel, and
// entries are only written once all fetches succeeded, in manifest order.
type Seeder struct {
	store          cache.Store
	origin         http.RoundTripper
	base           *url.URL
	maxConcurrency int
	fetchTimeout   time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         zerolog.Logger
}

// NewSeeder validates cfg and builds a Seeder.
func NewSeeder(cfg SeederConfig) (*Seeder, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Origin == nil {
		return nil, fmt.Errorf("origin transport cannot be nil")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", cfg.BaseURL)
	}

	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 15 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 500 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Second
	}

	return &Seeder{
		store:          cfg.Store,
		origin:         cfg.Origin,
		base:           base,
		maxConcurrency: maxConcurrency,
		fetchTimeout:   fetchTimeout,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		logger:         cfg.Logger,
	}, nil
}

type seedResult struct {
	index int
	entry *cache.Entry
	err   error
}

// Seed fetches every manifest URL and writes the entries into namespace.
// Any fetch failure fails the whole seed and nothing is written; the caller
// drops the namespace in that case to cover earlier partial seeds.
func (s *Seeder) Seed(ctx context.Context, namespace string, manifest []string) error {
	if len(manifest) == 0 {
		return nil
	}

	s.logger.Info().
		Str("namespace", namespace).
		Int("urls", len(manifest)).
		Int("workers", s.maxConcurrency).
		Msg("seeding bootstrap namespace")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan int, len(manifest))
	results := make(chan seedResult, len(manifest))

	var wg sync.WaitGroup
	workers := s.maxConcurrency
	if workers > len(manifest) {
		workers = len(manifest)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range queue {
				entry, err := s.fetchWithRetry(ctx, manifest[index])
				results <- seedResult{index: index, entry: entry, err: err}
			}
		}()
	}

	for index := range manifest {
		queue <- index
	}
	close(queue)

	go func() {
		wg.Wait()
		close(results)
	}()

	entries := make([]*cache.Entry, len(manifest))
	var firstErr error
	for result := range results {
		if result.err != nil {
			if firstErr == nil {
				firstErr = result.err
				cancel()
			}
			continue
		}
		entries[result.index] = result.entry
	}
	if firstErr != nil {
		return firstErr
	}

	// Write in manifest order so the namespace's insertion order matches
	// the manifest.
	for _, entry := range entries {
		if err := s.store.Put(ctx, namespace, entry.Key, entry); err != nil {
			return fmt.Errorf("store %s: %w", entry.Key, err)
		}
	}

	s.logger.Info().Str("namespace", namespace).Int("entries", len(entries)).Msg("bootstrap namespace seeded")
	return nil
}

// fetchWithRetry tries a single URL up to maxAttempts times with
// exponential backoff and jitter between attempts.
func (s *Seeder) fetchWithRetry(ctx context.Context, target string) (*cache.Entry, error) {
	backoff := s.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		entry, err := s.fetchOne(ctx, target)
		if err == nil {
			if attempt > 1 {
				s.logger.Debug().Str("url", target).Int("attempt", attempt).Msg("seed fetch succeeded after retry")
			}
			return entry, nil
		}
		lastErr = err
		if attempt >= s.maxAttempts {
			break
		}

		// Add jitter of up to 20% in either direction so parallel
		// retries spread out.
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		s.logger.Debug().
			Err(err).
			Str("url", target).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("seed fetch failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jitter):
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}

	return nil, fmt.Errorf("fetch %s after %d attempts: %w", target, s.maxAttempts, lastErr)
}

// fetchOne performs one GET of target against the base URL and turns a 2xx
// response into a cache entry keyed by the manifest path, matching the key
// runtime lookups compute from the request URL.
func (s *Seeder) fetchOne(ctx context.Context, target string) (*cache.Entry, error) {
	rel, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", target, err)
	}
	abs := s.base.ResolveReference(rel)

	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, abs.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %q: %w", target, err)
	}

	resp, err := s.origin.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}

	return cache.NewEntry(cache.Key(http.MethodGet, rel), resp)
}
