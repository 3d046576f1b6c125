package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/notify-push/gateway/internal/accesscache"
	"github.com/notify-push/gateway/internal/auxhttp"
	"github.com/notify-push/gateway/internal/config"
	"github.com/notify-push/gateway/internal/dispatcher"
	"github.com/notify-push/gateway/internal/metrics"
	"github.com/notify-push/gateway/internal/ncclient"
	"github.com/notify-push/gateway/internal/registry"
	"github.com/notify-push/gateway/internal/session"
)

// Exit codes per SPEC_FULL.md §6: 0 clean shutdown, 1 config error,
// 2 unrecoverable bus subscription failure.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitDispatcherDead = 2
)

func main() {
	_ = godotenv.Load() // optional local .env, silently ignored if absent

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("config error", "err", err.Error())
		os.Exit(exitConfigError)
	}
	if cfg.Version {
		slog.Info("notify-push gateway")
		os.Exit(exitOK)
	}
	if cfg.DumpConfig {
		slog.Info("resolved config", "config", cfg)
		os.Exit(exitOK)
	}

	configureLogging(cfg.LogLevel)

	m := metrics.New()

	loader, err := accesscache.NewDBLoader(cfg.DatabaseURL, cfg.DatabasePrefix, m)
	if err != nil {
		slog.Error("database connection failed", "err", err.Error())
		os.Exit(exitConfigError)
	}
	defer loader.Close()

	cache := accesscache.New(loader, accesscache.WithMetrics(m))

	reg := registry.New(m)

	ncc := ncclient.New(cfg.NextcloudURL, ncclient.WithAllowSelfSigned(cfg.AllowSelfSigned))

	sessionOpts := []session.Option{session.WithMetrics(m)}
	if cfg.MaxConnectionTime > 0 {
		sessionOpts = append(sessionOpts, session.WithMaxConnectionTime(time.Duration(cfg.MaxConnectionTime)*time.Second))
	}
	sessions := session.New(ncc, reg, sessionOpts...)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	defer redisClient.Close()

	disp := dispatcher.New(redisClient, cache, reg, m)

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	dispatcherErr := make(chan error, 1)
	go func() {
		dispatcherErr <- disp.Run(shutdownCtx)
	}()

	router := auxhttp.NewRouter(sessions, disp, cache, ncc)

	server := &http.Server{Handler: router}
	listener, err := listen(cfg.Bind)
	if err != nil {
		slog.Error("failed to bind listener", "bind", cfg.Bind.String(), "err", err.Error())
		os.Exit(exitConfigError)
	}

	var metricsServer *http.Server
	if cfg.MetricsBind != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Handler: metricsMux}
		metricsListener, err := listen(*cfg.MetricsBind)
		if err != nil {
			slog.Error("failed to bind metrics listener", "bind", cfg.MetricsBind.String(), "err", err.Error())
			os.Exit(exitConfigError)
		}
		go func() {
			if err := metricsServer.Serve(metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "err", err.Error())
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		if cfg.TLS != nil {
			serveErr <- server.ServeTLS(listener, cfg.TLS.Cert, cfg.TLS.Key)
		} else {
			serveErr <- server.Serve(listener)
		}
	}()

	slog.Info("notify-push gateway started", "bind", cfg.Bind.String())

	select {
	case <-sigCh:
		slog.Info("shutdown signal received")
		shutdownCancel()
		shutdownHTTP(server, metricsServer)
		os.Exit(exitOK)
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "err", err.Error())
		}
		shutdownCancel()
		os.Exit(exitConfigError)
	case err := <-dispatcherErr:
		slog.Error("bus subscription failed", "err", err.Error())
		shutdownHTTP(server, metricsServer)
		os.Exit(exitDispatcherDead)
	}
}

func shutdownHTTP(servers ...*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range servers {
		if s == nil {
			continue
		}
		_ = s.Shutdown(ctx)
	}
}

func listen(b config.Bind) (net.Listener, error) {
	if b.IsUnix() {
		_ = os.Remove(b.UnixPath)
		l, err := net.Listen("unix", b.UnixPath)
		if err != nil {
			return nil, err
		}
		if err := os.Chmod(b.UnixPath, os.FileMode(b.UnixPermission)); err != nil {
			return nil, err
		}
		return l, nil
	}
	return net.Listen("tcp", b.TCPAddress)
}

func configureLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
