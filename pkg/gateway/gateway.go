// Package gateway is the interception boundary. Every request the
// application makes enters here and every response leaves through here,
// routed via whichever engine the lifecycle manager has active. It wears
// two faces over the same path: an http.RoundTripper for in-process
// clients and an http.Handler for the reverse-proxy deployment.
package gateway

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ristomat/offline-edge/pkg/lifecycle"
)

// Config assembles a Gateway.
type Config struct {
	// Lifecycle provides the active engine and tracks in-flight requests.
	Lifecycle *lifecycle.Manager

	// Origin is the base URL relative request paths resolve against, e.g.
	// http://localhost:3000. Absolute third-party URLs are left alone.
	Origin string

	// Logger receives proxy-level warnings.
	Logger zerolog.Logger
}

// Gateway routes requests through the active engine.
type Gateway struct {
	lifecycle *lifecycle.Manager
	origin    *url.URL
	logger    zerolog.Logger
}

// New validates cfg and builds a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle cannot be nil")
	}
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin %q: %w", cfg.Origin, err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("origin %q must be absolute", cfg.Origin)
	}

	return &Gateway{
		lifecycle: cfg.Lifecycle,
		origin:    origin,
		logger:    cfg.Logger,
	}, nil
}

// RoundTrip routes req through the active engine. Before the first deploy
// finishes a synthesized 503 is returned; like the engine, this face never
// returns an error for handled classes.
func (g *Gateway) RoundTrip(req *http.Request) (*http.Response, error) {
	engine := g.lifecycle.Engine()
	if engine == nil {
		return notReady(req), nil
	}

	g.lifecycle.BeginRequest()
	defer g.lifecycle.EndRequest()
	return engine.RoundTrip(req)
}

// ServeHTTP serves one proxied request and writes the engine's response
// back. Transport errors can only come from bypassed requests and map to
// 502.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	engine := g.lifecycle.Engine()
	if engine == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":"Starting","message":"No cache version is active yet."}`)
		return
	}

	g.lifecycle.BeginRequest()
	defer g.lifecycle.EndRequest()

	resp, err := engine.RoundTrip(g.outbound(r))
	if err != nil {
		g.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("bypassed request failed")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		g.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("client went away during response write")
	}
}

// outbound turns a server-form request into a client-form one the engine's
// transport can send. Relative URLs are aimed at the origin; absolute URLs
// keep their own host so cross-origin requests classify as such.
func (g *Gateway) outbound(r *http.Request) *http.Request {
	out := r.Clone(r.Context())
	out.RequestURI = ""
	if out.URL.Host == "" {
		out.URL.Scheme = g.origin.Scheme
		out.URL.Host = g.origin.Host
		out.Host = ""
	}
	return out
}

func notReady(req *http.Request) *http.Response {
	body := `{"error":"Starting","message":"No cache version is active yet."}`
	return &http.Response{
		Status:     http.StatusText(http.StatusServiceUnavailable),
		StatusCode: http.StatusServiceUnavailable,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header: http.Header{
			"Content-Type": []string{"application/json"},
		},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
