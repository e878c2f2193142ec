package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ristomat/offline-edge/pkg/cache"
	"github.com/ristomat/offline-edge/pkg/classify"
	"github.com/ristomat/offline-edge/pkg/config"
	"github.com/ristomat/offline-edge/pkg/control"
	"github.com/ristomat/offline-edge/pkg/gateway"
	"github.com/ristomat/offline-edge/pkg/lifecycle"
	"github.com/ristomat/offline-edge/pkg/logging"
	"github.com/ristomat/offline-edge/pkg/netstate"
	"github.com/ristomat/offline-edge/pkg/notify"
	"github.com/ristomat/offline-edge/pkg/outbox"
	"github.com/ristomat/offline-edge/pkg/strategy"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", getEnv("EDGE_CONFIG", "edge.yaml"), "path to edge.yaml")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Environment overrides for containerized deployments
	if origin := os.Getenv("EDGE_ORIGIN"); origin != "" {
		cfg.Server.Origin = strings.TrimRight(origin, "/")
	}
	cfg.Server.Listen = getEnv("EDGE_LISTEN", cfg.Server.Listen)
	cfg.Redis.Addr = getEnv("EDGE_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Cache.Version = getEnv("EDGE_CACHE_VERSION", cfg.Cache.Version)

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("main")

	var store cache.Store
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("connect to redis at %s: %v", cfg.Redis.Addr, err)
		}
		defer redisClient.Close()
		store = cache.NewRedis(redisClient, cfg.Redis.Prefix)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("cache entries stored in redis")
	} else {
		store = cache.NewMemory()
		logger.Info().Msg("cache entries stored in memory")
	}

	queue, err := outbox.Open(cfg.Outbox.Path)
	if err != nil {
		log.Fatalf("open outbox at %s: %v", cfg.Outbox.Path, err)
	}
	defer queue.Close()

	// Direct transport to the origin, shared by the engine, the seeder and
	// replay. The header timeout is what bounds a network-first attempt
	// before the fallback chain takes over.
	origin := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: cfg.FetchTimeout(),
	}

	tracker := netstate.NewTracker(cfg.Network.FailureThreshold, logging.NewLogger("netstate"))

	coordinator, err := outbox.New(outbox.Config{
		Queue:       queue,
		Origin:      origin,
		BaseURL:     cfg.Server.Origin,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		Logger:      logging.NewLogger("outbox"),
	})
	if err != nil {
		log.Fatalf("build sync coordinator: %v", err)
	}
	tracker.OnRestore(coordinator.OnConnectivityRestored)

	classifier, err := classify.New(cfg.Server.Origin, cfg.Cache.APIPrefixes)
	if err != nil {
		log.Fatalf("build classifier: %v", err)
	}

	// The first manifest entry is the app shell; its key doubles as the
	// navigation fallback of last resort.
	var shellKey string
	if len(cfg.Cache.Shell) > 0 {
		if u, perr := url.Parse(cfg.Cache.Shell[0]); perr == nil {
			shellKey = cache.Key(http.MethodGet, u)
		}
	}

	engine, err := strategy.New(strategy.Config{
		Version:    cfg.Cache.Version,
		Store:      store,
		Classifier: classifier,
		Origin:     origin,
		Policies:   cfg.Policies(),
		ShellKey:   shellKey,
		Logger:     logging.NewLogger("strategy"),
		Replayer:   coordinator,
		Observer:   tracker,
	})
	if err != nil {
		log.Fatalf("build strategy engine: %v", err)
	}

	seeder, err := lifecycle.NewSeeder(lifecycle.SeederConfig{
		Store:        store,
		Origin:       origin,
		BaseURL:      cfg.Server.Origin,
		FetchTimeout: cfg.FetchTimeout(),
		Logger:       logging.NewLogger("seeder"),
	})
	if err != nil {
		log.Fatalf("build seeder: %v", err)
	}

	manager, err := lifecycle.NewManager(lifecycle.Config{
		Store:       store,
		Seeder:      seeder,
		SkipWaiting: cfg.SkipWaiting(),
		Claim:       cfg.Claim(),
		Logger:      logging.NewLogger("lifecycle"),
	})
	if err != nil {
		log.Fatalf("build lifecycle manager: %v", err)
	}

	gw, err := gateway.New(gateway.Config{
		Lifecycle: manager,
		Origin:    cfg.Server.Origin,
		Logger:    logging.NewLogger("gateway"),
	})
	if err != nil {
		log.Fatalf("build gateway: %v", err)
	}

	plane, err := control.New(control.Config{
		Store:     store,
		Lifecycle: manager,
		Logger:    logging.NewLogger("control"),
	})
	if err != nil {
		log.Fatalf("build control plane: %v", err)
	}

	hub := notify.NewHub(notify.Config{Logger: logging.NewLogger("notify")})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go plane.Start(ctx)
	go hub.Run(ctx)
	go coordinator.RunPeriodic(ctx, cfg.SyncInterval())
	go tracker.Probe(ctx, &http.Client{Timeout: cfg.FetchTimeout()}, cfg.Server.Origin+cfg.Network.ProbePath, cfg.ProbeInterval())

	// Replay completions fan out to websocket clients.
	bridgeID, completions := coordinator.Subscribe()
	defer coordinator.Unsubscribe(bridgeID)
	go func() {
		for completion := range completions {
			hub.Broadcast(completion)
		}
	}()

	if err := manager.Deploy(ctx, engine, cfg.Cache.Shell); err != nil {
		logger.Error().Err(err).Str("version", cfg.Cache.Version).
			Msg("initial install failed, serving 503 until a retry succeeds")
		go retryInstall(ctx, manager, engine, cfg.Cache.Shell, cfg.ProbeInterval(), logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/control", controlHandler(plane))
	mux.HandleFunc("/admin/sync", syncHandler(coordinator))
	mux.HandleFunc("/healthz", healthHandler(manager, tracker, queue))
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", gw)

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().
			Str("listen", cfg.Server.Listen).
			Str("origin", cfg.Server.Origin).
			Str("version", cfg.Cache.Version).
			Msg("edge proxy listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("shutdown incomplete")
	}
}

// retryInstall keeps trying a failed initial install. A proxy that boots
// while the origin is unreachable has nothing to serve until the shell
// seed lands, so the install retries on the probe cadence instead of
// giving up.
func retryInstall(ctx context.Context, manager *lifecycle.Manager, engine *strategy.Engine, shell []string, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := manager.Deploy(ctx, engine, shell); err != nil {
				logger.Warn().Err(err).Msg("install retry failed")
				continue
			}
			logger.Info().Str("version", engine.Version()).Msg("install retry succeeded")
			return
		}
	}
}

// controlHandler bridges HTTP to the control plane. The request carries
// {"op": "..."} and the reply comes back verbatim. Operations that never
// reply, unknown ops included, surface as 504 through the caller-side
// timeout.
func controlHandler(plane *control.Plane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var body struct {
			Op string `json:"op"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if body.Op == "" {
			http.Error(w, "op is required", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		reply, err := plane.Request(ctx, body.Op)
		if err != nil {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply)
	}
}

// syncHandler triggers a replay pass. An optional tag query parameter
// narrows the flush to tasks whose tag starts with it.
func syncHandler(coordinator *outbox.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		result, err := coordinator.Flush(r.Context(), r.URL.Query().Get("tag"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

func healthHandler(manager *lifecycle.Manager, tracker *netstate.Tracker, queue *outbox.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := queue.Len()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":        "ok",
			"version":       manager.Version(),
			"phase":         manager.Phase().String(),
			"origin_online": tracker.Online(),
			"pending_syncs": pending,
		})
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
