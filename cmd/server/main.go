package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"puja-player/internal/blob"
	"puja-player/internal/fetch"
	"puja-player/internal/orchestrator"
	"puja-player/internal/playback"
	"puja-player/internal/platform/config"
	"puja-player/internal/platform/logger"
	"puja-player/internal/platform/metrics"
	"puja-player/internal/segcache"
	"puja-player/internal/session"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	log := logger.New(config.GetEnv("LOG_LEVEL", "info"), config.GetEnv("LOG_FORMAT", "json"))
	if err := run(log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// run wires the server and blocks until a shutdown signal or a listener
// error. Every opened resource is closed before it returns.
func run(log *slog.Logger) error {
	port := config.GetEnv("PORT", "8080")
	apiURL := config.GetEnv("PLAYBACK_API_URL", "")
	catalogPath := config.GetEnv("PLAYBACK_CATALOG", "")
	cacheDir := config.GetEnv("CACHE_DIR", "")
	cacheMaxAge := config.GetEnvDuration("CACHE_MAX_AGE", segcache.DefaultMaxAge)
	cacheMaxBytes := config.GetEnvInt64("CACHE_MAX_BYTES", 0)
	identityPath := config.GetEnv("IDENTITY_INDEX_PATH", "")
	redisAddr := config.GetEnv("REDIS_ADDR", "")
	redisPrefix := config.GetEnv("REDIS_PREFIX", segcache.DefaultRedisPrefix)
	mediaPrefix := config.GetEnv("MEDIA_PATH_PREFIX", blob.DefaultPrefix)

	met := metrics.New()

	db, err := segcache.OpenBadger(cacheDir, cacheMaxBytes)
	if err != nil {
		return err
	}
	defer db.Close()

	var meta segcache.MetaIndex = db
	if redisAddr != "" {
		// Hashes outlive the max age so Get sees them expire and evicts
		// the Badger blob along with them.
		idx, err := segcache.DialRedisMetaIndex(context.Background(), redisAddr, redisPrefix, 2*cacheMaxAge)
		if err != nil {
			return fmt.Errorf("redis metadata index at %s: %w", redisAddr, err)
		}
		defer idx.Close()
		meta = idx
	}

	ids, err := segcache.OpenFileIdentityIndex(identityPath)
	if err != nil {
		return err
	}

	urls := blob.NewRegistry(mediaPrefix)
	cache := segcache.New(segcache.Config{
		Blobs:      db,
		Meta:       meta,
		Identities: ids,
		URLs:       urls,
		MaxAge:     cacheMaxAge,
		Logger:     log,
		Metrics:    met,
	})

	fetcher := fetch.New(nil, log, met, fetch.Config{
		MaxAttempts:    config.GetEnvInt("DOWNLOAD_ATTEMPTS", fetch.DefaultMaxAttempts),
		AttemptTimeout: config.GetEnvDuration("DOWNLOAD_TIMEOUT", fetch.DefaultAttemptTimeout),
		BaseDelay:      config.GetEnvDuration("DOWNLOAD_BASE_DELAY", fetch.DefaultBaseDelay),
		UserAgent:      config.GetEnv("USER_AGENT", ""),
	})

	var src playback.Source
	switch {
	case catalogPath != "":
		catalog, err := playback.LoadCatalogFile(catalogPath)
		if err != nil {
			return err
		}
		log.Info("serving playback from catalog", "path", catalogPath, "records", catalog.Len())
		src = catalog
	case apiURL != "":
		src = playback.NewHTTPSource(playback.HTTPSourceConfig{BaseURL: apiURL}, nil, log, met)
	default:
		return errors.New("no playback source configured, set PLAYBACK_API_URL or PLAYBACK_CATALOG")
	}

	loader := playback.NewLoader(src, log)
	svc := orchestrator.NewService(cache, fetcher, urls, log, met)
	mgr := session.NewManager(session.NewInMemoryRepository(), loader, svc, urls, log, met)
	h := session.NewHandler(mgr, cache, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(mgr.ActiveSessionCount()) }).ServeHTTP(w, r)
	})
	r.Handle(urls.Prefix()+"*", urls)
	h.RegisterRoutes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	log.Info("server starting",
		"port", port,
		"cache_dir", cacheDir,
		"cache_max_age", cacheMaxAge.String(),
		"cache_max_bytes", cacheMaxBytes,
		"redis", redisAddr != "",
		"media_prefix", urls.Prefix(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		log.Info("shutdown signal received, draining connections")
	case runErr = <-serveErr:
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if serr := srv.Shutdown(ctx); serr != nil {
		log.Error("shutdown error", "error", serr)
	}
	mgr.Close()

	log.Info("server stopped")
	return runErr
}
