package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/optinbot/widget/internal/config"
	"github.com/optinbot/widget/internal/handler"
	"github.com/optinbot/widget/internal/handler/devhook"
	"github.com/optinbot/widget/internal/logger"
	"github.com/optinbot/widget/internal/service/assistant"
)

var rootCmd = &cobra.Command{
	Use:   "devhook",
	Short: "Local stand-in for the OptInBot chat and status webhooks",
	RunE:  runDevHook,
}

var flagConfigPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", os.Getenv("WIDGET_CONFIG"), "optional TOML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute devhook")
	}
}

func runDevHook(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.Init(cfg.Log)

	var replier assistant.Replier = assistant.Echo{}
	if cfg.AI.Enabled() {
		svc, err := assistant.NewService(ctx, cfg.AI)
		if err != nil {
			log.Warn().Err(err).Msg("[devhook] AI service unavailable, falling back to echo - 请检查 Ark 模型相关环境变量")
		} else {
			replier = svc
			log.Info().Str("model", cfg.AI.Model).Msg("[devhook] AI service initialized")
		}
	} else {
		log.Info().Msg("[devhook] Ark 凭证未配置，使用 echo 回复")
	}

	hooks := devhook.New(replier, cfg.DevHook.DefaultStatus, cfg.DevHook.Statuses)

	srv := &http.Server{
		Addr:              cfg.DevHook.Addr,
		Handler:           handler.NewDevHookRouter(hooks),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", srv.Addr).Msg("devhook listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
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
