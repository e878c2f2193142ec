package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ristomat/offline-edge/pkg/classify"
	"github.com/ristomat/offline-edge/pkg/strategy"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  origin: http://localhost:3000/\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Listen != ":8090" {
		t.Errorf("listen = %q, want :8090", cfg.Server.Listen)
	}
	if cfg.Server.Origin != "http://localhost:3000" {
		t.Errorf("origin = %q, trailing slash should be trimmed", cfg.Server.Origin)
	}
	if cfg.Cache.Version != "v1" {
		t.Errorf("version = %q, want v1", cfg.Cache.Version)
	}
	if len(cfg.Cache.APIPrefixes) != 1 || cfg.Cache.APIPrefixes[0] != "/api/" {
		t.Errorf("apiPrefixes = %v", cfg.Cache.APIPrefixes)
	}
	if !cfg.SkipWaiting() || !cfg.Claim() {
		t.Error("skipWaiting and claim should default to true")
	}
	if cfg.SyncInterval() != 30*time.Second {
		t.Errorf("syncInterval = %v, want 30s", cfg.SyncInterval())
	}
	if cfg.FetchTimeout() != 10*time.Second {
		t.Errorf("fetchTimeout = %v, want 10s", cfg.FetchTimeout())
	}
	if cfg.ProbeInterval() != 15*time.Second {
		t.Errorf("probeInterval = %v, want 15s", cfg.ProbeInterval())
	}
	if cfg.Outbox.Path != "data/outbox" {
		t.Errorf("outbox path = %q", cfg.Outbox.Path)
	}
	if cfg.Redis.Prefix != "edge" {
		t.Errorf("redis prefix = %q", cfg.Redis.Prefix)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}
}

func TestParse_FullDocument(t *testing.T) {
	doc := `
server:
  listen: ":9000"
  origin: http://app:3000
cache:
  version: v7
  shell:
    - /
    - /offline.html
  apiPrefixes:
    - /api/
    - /v2/
  skipWaiting: false
  claim: false
  policies:
    - class: api
      ttl: 2m
      maxEntries: 10
redis:
  addr: localhost:6379
  db: 2
outbox:
  path: /var/lib/edge/outbox
  syncInterval: 1m
network:
  fetchTimeout: 5s
  failureThreshold: 5
  probePath: /healthz
logging:
  level: debug
  pretty: true
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Listen != ":9000" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Cache.Version != "v7" {
		t.Errorf("version = %q", cfg.Cache.Version)
	}
	if len(cfg.Cache.Shell) != 2 {
		t.Errorf("shell = %v", cfg.Cache.Shell)
	}
	if cfg.SkipWaiting() || cfg.Claim() {
		t.Error("explicit false settings ignored")
	}
	if cfg.SyncInterval() != time.Minute {
		t.Errorf("syncInterval = %v", cfg.SyncInterval())
	}
	if cfg.Network.FailureThreshold != 5 {
		t.Errorf("failureThreshold = %d", cfg.Network.FailureThreshold)
	}

	policies := cfg.Policies()
	api := policies[classify.API]
	if api.TTL != 2*time.Minute {
		t.Errorf("api TTL = %v, want 2m", api.TTL)
	}
	if api.MaxEntries != 10 {
		t.Errorf("api maxEntries = %d, want 10", api.MaxEntries)
	}
	if api.Strategy != strategy.NetworkFirst {
		t.Errorf("api strategy = %q, override must keep the default", api.Strategy)
	}

	// Untouched classes keep the stock table.
	image := policies[classify.Image]
	if image.MaxEntries != 60 || image.Strategy != strategy.CacheFirst {
		t.Errorf("image policy changed without an override: %+v", image)
	}
}

func TestParse_PolicyOverrideToUnbounded(t *testing.T) {
	doc := `
server:
  origin: http://app:3000
cache:
  policies:
    - class: image
      maxEntries: 0
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := cfg.Policies()[classify.Image].MaxEntries; got != 0 {
		t.Errorf("image maxEntries = %d, want unbounded 0", got)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing origin",
			doc:  "server:\n  listen: \":9000\"\n",
			want: "server.origin",
		},
		{
			name: "bad duration",
			doc:  "server:\n  origin: http://a\noutbox:\n  syncInterval: soon\n",
			want: "outbox.syncInterval",
		},
		{
			name: "negative duration",
			doc:  "server:\n  origin: http://a\nnetwork:\n  fetchTimeout: -3s\n",
			want: "network.fetchTimeout",
		},
		{
			name: "unknown class",
			doc:  "server:\n  origin: http://a\ncache:\n  policies:\n    - class: video\n",
			want: "unknown class",
		},
		{
			name: "unknown strategy",
			doc:  "server:\n  origin: http://a\ncache:\n  policies:\n    - class: api\n      strategy: psychic\n",
			want: "unknown strategy",
		},
		{
			name: "bad ttl",
			doc:  "server:\n  origin: http://a\ncache:\n  policies:\n    - class: api\n      ttl: fortnight\n",
			want: "ttl",
		},
		{
			name: "negative maxEntries",
			doc:  "server:\n  origin: http://a\ncache:\n  policies:\n    - class: api\n      maxEntries: -1\n",
			want: "maxEntries",
		},
		{
			name: "not yaml",
			doc:  "{{{",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edge.yaml")
	doc := "server:\n  origin: http://localhost:3000\ncache:\n  version: v3\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cache.Version != "v3" {
		t.Errorf("version = %q, want v3", cfg.Cache.Version)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
