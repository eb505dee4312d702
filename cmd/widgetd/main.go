package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/optinbot/widget/internal/config"
	"github.com/optinbot/widget/internal/handler"
	"github.com/optinbot/widget/internal/handler/assets"
	"github.com/optinbot/widget/internal/logger"
	"github.com/optinbot/widget/internal/model/widget"
	"github.com/optinbot/widget/internal/service/mount"
	"github.com/optinbot/widget/internal/service/render"
	"github.com/optinbot/widget/internal/service/status"
	"github.com/optinbot/widget/internal/service/webhook"
)

var rootCmd = &cobra.Command{
	Use:   "widgetd",
	Short: "OptInBot chat widget server",
	RunE:  runWidgetd,
}

var flagConfigPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", os.Getenv("WIDGET_CONFIG"), "optional TOML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute widgetd")
	}
}

func runWidgetd(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.Init(cfg.Log)

	client := webhook.NewClient(cfg.Webhook.Timeout)

	cache, closeCache, err := openStatusCache(cfg.Status)
	if err != nil {
		return err
	}
	defer closeCache()

	loc := time.Local
	if cfg.Widget.TimeZone != "" {
		if loc, err = time.LoadLocation(cfg.Widget.TimeZone); err != nil {
			return fmt.Errorf("load time zone %q: %w", cfg.Widget.TimeZone, err)
		}
	}

	defaults := widget.Default()
	defaults.N8nWebhookURL = cfg.Widget.DefaultWebhookURL

	registry := mount.NewRegistry(ctx, defaults, mount.Options{
		Poster:       client,
		Gate:         status.NewGate(client, cfg.Status.Endpoint, cache),
		Renderer:     render.New(loc),
		FlushTimeout: cfg.Webhook.FlushTimeout,
		Preview: widget.PreviewRules{
			QueryParam: cfg.Widget.PreviewQueryParam,
			Referrers:  cfg.Widget.PreviewReferrers,
		},
		EventRate:  rate.Limit(cfg.Mounts.EventRate),
		EventBurst: cfg.Mounts.EventBurst,
	}, cfg.Mounts.IdleTTL)
	go registry.Run(ctx, cfg.Mounts.ReapInterval)

	loader, err := assets.New(apiBase(cfg.Server))
	if err != nil {
		return err
	}

	router := handler.NewRouter(cfg, registry, loader)
	return startServer(ctx, cfg.Server.Addr, router)
}

// openStatusCache 优先使用 pebble 持久化缓存，未配置目录时退回内存缓存。
func openStatusCache(cfg config.StatusConfig) (status.Cache, func(), error) {
	if cfg.CacheDir == "" {
		log.Info().Int("size", cfg.CacheSize).Dur("ttl", cfg.CacheTTL).Msg("[status] using in-memory cache")
		return status.NewMemoryCache(cfg.CacheSize, cfg.CacheTTL), func() {}, nil
	}

	cache, err := status.OpenPebbleCache(cfg.CacheDir, cfg.CacheTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("open status cache: %w", err)
	}
	log.Info().Str("dir", cfg.CacheDir).Dur("ttl", cfg.CacheTTL).Msg("[status] using pebble cache")
	return cache, func() {
		if err := cache.Close(); err != nil {
			log.Warn().Err(err).Msg("[status] close cache")
		}
	}, nil
}

func apiBase(cfg config.ServerConfig) string {
	base := strings.TrimRight(cfg.PublicURL, "/")
	if base == "" {
		addr := cfg.Addr
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		base = "http://" + addr
	}
	return base + "/api"
}

func startServer(ctx context.Context, addr string, router http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("OptInBot widget server listening")
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
