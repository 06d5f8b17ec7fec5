package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"multichat/internal/catalog"
	"multichat/internal/config"
	"multichat/internal/credentials"
	"multichat/internal/exchange"
	"multichat/internal/kv"
	"multichat/internal/metrics"
	"multichat/internal/providers"
	"multichat/internal/providers/registry"
	"multichat/internal/session"
	"multichat/internal/storage"
	"multichat/internal/storage/device"
	"multichat/internal/storage/remote"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deviceStore, err := openDeviceStore(ctx, cfg.Device)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open device store")
	}
	defer deviceStore.Close()

	creds := credentials.New(deviceStore, cfg.Device.Namespace, cfg.EnvCredentials())
	if err := creds.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load credentials")
	}

	backend, err := openBackend(ctx, cfg, deviceStore)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize chat backend")
	}
	defer backend.Close()
	log.Info().
		Str("backend", string(backend.Kind())).
		Str("device_store", cfg.Device.Store).
		Int("providers_configured", len(creds.Configured())).
		Msg("starting multichat")

	m := metrics.Global()
	sess := session.New(session.Config{
		Backend: backend,
		Catalog: catalog.Default(),
		Logger:  log.Logger,
	})
	dispatcher := registry.NewDispatcher(registry.Config{
		Credentials: creds,
		BaseURLs:    cfg.BaseURLs(),
		HTTPClient:  providers.NewHTTPClient(cfg.HTTP.HeaderTimeout),
		Logger:      log.Logger,
	})

	term := newREPL(replConfig{
		Session:     sess,
		Credentials: creds,
		In:          os.Stdin,
		Out:         os.Stdout,
	})
	orch := exchange.New(exchange.Config{
		Session:    sess,
		Dispatcher: dispatcher,
		Logger:     log.Logger,
		Metrics:    m,
		Observer:   term.observe,
	})
	term.orch = orch

	if err := sess.FetchChats(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to fetch chats")
	}

	errCh := make(chan error, 2)
	replDone := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.HTTP.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle(cfg.HTTP.MetricsPath, promhttp.Handler())
	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg := conc.NewWaitGroup()
	if cfg.HTTP.ListenAddr != "" {
		wg.Go(func() {
			log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	wg.Go(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGINT && orch.Stop() {
					log.Info().Str("phase", string(orch.Phase())).Msg("exchange stopped")
					continue
				}
				log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
				cancel()
				return
			}
		}
	})

	// The terminal blocks on stdin, so it stays outside the wait group.
	go func() {
		defer close(replDone)
		if err := term.Run(ctx); err != nil {
			errCh <- fmt.Errorf("terminal: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case <-replDone:
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
	}
	orch.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}
	wg.Wait()

	log.Info().Msg("stopped")
}

func openDeviceStore(ctx context.Context, cfg config.DeviceConfig) (kv.Store, error) {
	switch cfg.Store {
	case config.DeviceRedis:
		return kv.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return kv.OpenSQLite(ctx, cfg.Path)
	}
}

// openBackend picks the chat backend once. A remote failure is fatal; there
// is no fallback to the device store.
func openBackend(ctx context.Context, cfg *config.Config, deviceStore kv.Store) (storage.Backend, error) {
	if !cfg.RemoteConfigured() {
		return device.New(deviceStore, cfg.Device.Namespace), nil
	}
	dsn, err := cfg.RemoteDSN()
	if err != nil {
		return nil, err
	}
	return remote.Open(ctx, remote.Config{
		Driver:      cfg.Remote.Driver,
		DSN:         dsn,
		AutoMigrate: cfg.Remote.AutoMigrate,
		Logger:      log.Logger.With().Str("component", "remote_store").Logger(),
	})
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
