// Package strategy serves requests according to per-class caching policies.
//
// The Engine is an http.RoundTripper that wraps the origin transport. For
// same-origin requests it guarantees a response: the origin when reachable, a
// cached copy when not, a synthesized fallback when the cache has nothing
// servable. Cross-origin requests pass through untouched, transport errors
// included; nothing from a third-party host is ever cached or synthesized.
package strategy

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ristomat/offline-edge/pkg/cache"
	"github.com/ristomat/offline-edge/pkg/classify"
)

// Diagnostic headers stamped on responses the engine had a hand in.
const (
	HeaderSource = "X-Edge-Source"
	HeaderClass  = "X-Edge-Class"
)

// Replayer captures failed mutations for later replay. Implemented by the
// outbox coordinator; the engine only needs the capture side.
type Replayer interface {
	// Capture persists the request for replay and returns its task tag.
	Capture(req *http.Request, body []byte) (string, error)
}

// Observer is notified of origin fetch outcomes. Implemented by the
// connectivity tracker.
type Observer interface {
	ReportSuccess()
	ReportFailure()
}

// Config assembles an Engine.
type Config struct {
	// Version is the cache version; namespaces are "<purpose>-<version>".
	Version string

	// Store holds the cached responses.
	Store cache.Store

	// Classifier assigns requests to classes.
	Classifier *classify.Classifier

	// Origin is the upstream transport.
	Origin http.RoundTripper

	// Policies maps classes to policies. Nil selects DefaultPolicies.
	Policies map[classify.Class]Policy

	// ShellKey is the app shell's cache key inside the bootstrap
	// namespace, the navigation fallback of last resort before the
	// offline page. Defaults to "GET:/".
	ShellKey string

	// Logger receives per-request debug logs and failure warnings.
	Logger zerolog.Logger

	// Replayer, if set, captures failed API mutations. Optional.
	Replayer Replayer

	// Observer, if set, is told about origin fetch outcomes. Optional.
	Observer Observer
}

// Engine routes requests per class. Engines are immutable: a cache version
// bump builds a new Engine and swaps it in, it never mutates a running one.
type Engine struct {
	version    string
	store      cache.Store
	classifier *classify.Classifier
	origin     http.RoundTripper
	policies   map[classify.Class]Policy
	shellKey   string
	logger     zerolog.Logger
	replayer   Replayer
	observer   Observer
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Version == "" {
		return nil, fmt.Errorf("version cannot be empty")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}
	if cfg.Origin == nil {
		return nil, fmt.Errorf("origin transport cannot be nil")
	}

	policies := cfg.Policies
	if policies == nil {
		policies = DefaultPolicies()
	}
	shellKey := cfg.ShellKey
	if shellKey == "" {
		shellKey = "GET:/"
	}

	return &Engine{
		version:    cfg.Version,
		store:      cfg.Store,
		classifier: cfg.Classifier,
		origin:     cfg.Origin,
		policies:   policies,
		shellKey:   shellKey,
		logger:     cfg.Logger,
		replayer:   cfg.Replayer,
		observer:   cfg.Observer,
	}, nil
}

// Version returns the cache version the engine serves from.
func (e *Engine) Version() string {
	return e.version
}

// Namespace returns the full namespace id for a purpose, for example
// Namespace("api") == "api-v3" when the engine serves version v3.
func (e *Engine) Namespace(purpose string) string {
	return purpose + "-" + e.version
}

// Namespaces returns the sorted namespace ids this engine serves from,
// bootstrap included. Activation uses it as the keep list when dropping
// older versions.
func (e *Engine) Namespaces() []string {
	seen := map[string]bool{e.Namespace("bootstrap"): true}
	out := []string{e.Namespace("bootstrap")}
	for _, p := range e.policies {
		if p.Namespace == "" {
			continue
		}
		ns := e.Namespace(p.Namespace)
		if !seen[ns] {
			seen[ns] = true
			out = append(out, ns)
		}
	}
	sort.Strings(out)
	return out
}

// RoundTrip serves req according to its class's policy. For same-origin
// requests the returned error is always nil.
func (e *Engine) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	class := e.classifier.Classify(req)

	var (
		resp *http.Response
		err  error
	)
	if e.classifier.CrossOrigin(req) {
		// Trust boundary: third-party traffic is never cached, whatever
		// its class or policy says.
		resp, err = e.passthrough(req, class)
	} else {
		policy := e.policies[class]
		switch policy.Strategy {
		case NetworkFirst:
			resp = e.networkFirst(req, class, policy)
		case CacheFirst:
			resp = e.cacheFirst(req, class, policy)
		default:
			resp, err = e.passthrough(req, class)
		}
	}

	requestDuration.WithLabelValues(string(class)).Observe(time.Since(start).Seconds())

	if resp != nil {
		resp.Header.Set(HeaderClass, string(class))
		e.logger.Debug().
			Str("class", string(class)).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("source", resp.Header.Get(HeaderSource)).
			Int("status", resp.StatusCode).
			Dur("duration", time.Since(start)).
			Msg("request served")
	}
	return resp, err
}

// networkFirst prefers fresh responses and keeps an offline copy.
func (e *Engine) networkFirst(req *http.Request, class classify.Class, policy Policy) *http.Response {
	if class == classify.API && req.Method != http.MethodGet && req.Method != http.MethodHead {
		return e.mutate(req, class)
	}

	resp, err := e.fetchOrigin(req, true)
	if err == nil {
		e.writeThrough(req, resp, policy)
		return e.served(resp, class, "network")
	}

	e.logger.Warn().
		Err(err).
		Str("class", string(class)).
		Str("path", req.URL.Path).
		Msg("origin unreachable, serving from cache")
	return e.offline(req, class, policy)
}

// offline is the network-first fallback chain: fresh cached copy, then (for
// navigations) the app shell, then a synthesized response.
func (e *Engine) offline(req *http.Request, class classify.Class, policy Policy) *http.Response {
	ctx := req.Context()
	ns := e.Namespace(policy.Namespace)
	key := cache.Key(req.Method, req.URL)

	entry, err := e.store.Get(ctx, ns, key)
	if err == nil {
		if policy.TTL <= 0 || !entry.Expired(policy.TTL) {
			return e.served(entry.Response(req), class, "cache")
		}
		// Expired entries are as good as absent; drop them so they stop
		// occupying a namespace slot.
		if derr := e.store.Delete(ctx, ns, key); derr != nil {
			e.logger.Warn().Err(derr).Str("key", key).Msg("failed to drop expired entry")
		}
	} else if err != cache.ErrCacheMiss {
		e.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	if class == classify.Navigation {
		shell, serr := e.store.Get(ctx, e.Namespace("bootstrap"), e.shellKey)
		if serr == nil {
			return e.served(shell.Response(req), class, "shell")
		}
		return e.served(offlineHTML(req), class, "fallback")
	}
	return e.served(offlineJSON(req), class, "fallback")
}

// cacheFirst serves cached copies and fetches only on a miss or expiry. An
// expired copy is kept in hand and served stale when the refetch fails.
func (e *Engine) cacheFirst(req *http.Request, class classify.Class, policy Policy) *http.Response {
	ctx := req.Context()
	ns := e.Namespace(policy.Namespace)
	key := cache.Key(req.Method, req.URL)

	var stale *cache.Entry
	entry, err := e.store.Get(ctx, ns, key)
	if err == nil {
		if policy.TTL <= 0 || !entry.Expired(policy.TTL) {
			return e.served(entry.Response(req), class, "cache")
		}
		stale = entry
	} else if err != cache.ErrCacheMiss {
		e.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	// Assets seeded at install time live in the bootstrap namespace; a miss
	// consults it before the network so the precached shell serves offline.
	if stale == nil {
		if seeded, serr := e.store.Get(ctx, e.Namespace("bootstrap"), key); serr == nil {
			return e.served(seeded.Response(req), class, "cache")
		}
	}

	resp, ferr := e.fetchOrigin(req, true)
	if ferr == nil {
		e.writeThrough(req, resp, policy)
		return e.served(resp, class, "network")
	}

	if stale != nil {
		e.logger.Warn().
			Err(ferr).
			Str("class", string(class)).
			Str("path", req.URL.Path).
			Msg("origin unreachable, serving expired copy")
		return e.served(stale.Response(req), class, "stale")
	}

	e.logger.Warn().
		Err(ferr).
		Str("class", string(class)).
		Str("path", req.URL.Path).
		Msg("origin unreachable and no cached copy")

	if class == classify.Image {
		return e.served(imagePlaceholder(req), class, "fallback")
	}
	return e.served(unavailable(req), class, "fallback")
}

// mutate forwards a non-GET API request; on transport failure the request is
// captured for replay and acknowledged as queued.
func (e *Engine) mutate(req *http.Request, class classify.Class) *http.Response {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			e.logger.Error().Err(err).Str("path", req.URL.Path).Msg("failed to buffer request body")
			return e.served(offlineJSON(req), class, "fallback")
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	resp, err := e.fetchOrigin(req, true)
	if err == nil {
		return e.served(resp, class, "network")
	}

	e.logger.Warn().
		Err(err).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Msg("mutation failed, capturing for replay")

	if e.replayer != nil {
		tag, cerr := e.replayer.Capture(req, body)
		if cerr == nil {
			return e.served(queued(req, tag), class, "queued")
		}
		e.logger.Error().Err(cerr).Str("path", req.URL.Path).Msg("replay capture failed")
	}
	return e.served(offlineJSON(req), class, "fallback")
}

// passthrough forwards untouched. Only same-origin outcomes feed the
// connectivity observer; a dead third-party host says nothing about ours.
func (e *Engine) passthrough(req *http.Request, class classify.Class) (*http.Response, error) {
	report := !e.classifier.CrossOrigin(req)
	resp, err := e.fetchOrigin(req, report)
	if err != nil {
		requestsTotal.WithLabelValues(string(class), "bypass_error").Inc()
		return nil, err
	}
	requestsTotal.WithLabelValues(string(class), "bypass").Inc()
	return resp, nil
}

// writeThrough stores a fresh response. Only successful GET responses are
// cacheable; everything else passes by without a write.
func (e *Engine) writeThrough(req *http.Request, resp *http.Response, policy Policy) {
	if req.Method != http.MethodGet {
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return
	}

	ctx := req.Context()
	ns := e.Namespace(policy.Namespace)
	key := cache.Key(req.Method, req.URL)

	entry, err := cache.NewEntry(key, resp)
	if err != nil {
		e.logger.Error().Err(err).Str("key", key).Msg("failed to capture response")
		return
	}
	if err := e.store.Put(ctx, ns, key, entry); err != nil {
		e.logger.Error().Err(err).Str("key", key).Str("namespace", ns).Msg("cache write failed")
		return
	}
	if policy.MaxEntries > 0 {
		evicted, err := cache.EnforceBound(ctx, e.store, ns, policy.MaxEntries)
		if err != nil {
			e.logger.Warn().Err(err).Str("namespace", ns).Msg("bound enforcement failed")
		} else if evicted > 0 {
			e.logger.Debug().Int("evicted", evicted).Str("namespace", ns).Msg("namespace bound enforced")
		}
	}
}

func (e *Engine) fetchOrigin(req *http.Request, report bool) (*http.Response, error) {
	resp, err := e.origin.RoundTrip(req)
	if err != nil {
		if report {
			originFailures.Inc()
			if e.observer != nil {
				e.observer.ReportFailure()
			}
		}
		return nil, err
	}
	if report && e.observer != nil {
		e.observer.ReportSuccess()
	}
	return resp, nil
}

func (e *Engine) served(resp *http.Response, class classify.Class, source string) *http.Response {
	resp.Header.Set(HeaderSource, source)
	requestsTotal.WithLabelValues(string(class), source).Inc()
	return resp
}
