package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/optinbot/widget/internal/config"
	"github.com/optinbot/widget/internal/logger"
	"github.com/optinbot/widget/internal/service/dispatch"
	"github.com/optinbot/widget/internal/service/session"
	"github.com/optinbot/widget/internal/service/status"
	"github.com/optinbot/widget/internal/service/transcript"
	"github.com/optinbot/widget/internal/service/webhook"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] 无法加载 .env，改用系统环境变量: %v\n", err)
	}

	configPath := flag.String("config", "", "TOML 配置文件路径")
	mode := flag.String("mode", "", "测试模式: status, chat 或 flush")
	endpoint := flag.String("endpoint", "", "webhook 地址，默认使用配置中的地址")
	clientID := flag.String("client", "", "clientId")
	text := flag.String("text", "Hello!", "chat 模式发送的文本")
	sessionID := flag.String("session", "", "自定义 sessionId，留空则自动生成")
	timeout := flag.Duration("timeout", webhook.DefaultTimeout, "请求超时时间")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}
	logger.Init(config.LogConfig{Level: "debug", Format: "console"})

	if *clientID == "" {
		flag.Usage()
		log.Fatal().Msg("请通过 -client 指定 clientId")
	}

	sid := *sessionID
	if sid == "" {
		sid = session.NewID()
	}

	client := webhook.NewClient(*timeout)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout+time.Second)
	defer cancel()

	switch *mode {
	case "status":
		url := firstNonEmpty(*endpoint, cfg.Status.Endpoint)
		state := status.NewGate(client, url, nil).Resolve(ctx, "", *clientID)
		log.Info().Str("endpoint", url).Str("clientId", *clientID).Str("gating", string(state)).Msg("status resolved")
	case "chat":
		url := firstNonEmpty(*endpoint, cfg.Widget.DefaultWebhookURL)
		var out map[string]any
		start := time.Now()
		err := client.PostJSON(ctx, url, dispatch.Request{ChatInput: *text, ClientID: *clientID, SessionID: sid}, &out)
		if err != nil {
			log.Fatal().Err(err).Str("endpoint", url).Msg("chat request failed")
		}
		log.Info().Str("sessionId", sid).Dur("elapsed", time.Since(start)).Interface("response", out).Msg("chat replied")
	case "flush":
		url := firstNonEmpty(*endpoint, cfg.Widget.DefaultWebhookURL)
		err := client.PostJSON(ctx, url, transcript.Request{
			ChatInput: transcript.EndMarker,
			ClientID:  *clientID,
			SessionID: sid,
			Event:     transcript.EventConversationEnded,
		}, nil)
		if err != nil {
			log.Fatal().Err(err).Str("endpoint", url).Msg("flush request failed")
		}
		log.Info().Str("sessionId", sid).Msg("flush delivered")
	default:
		flag.Usage()
		log.Fatal().Msg("请通过 -mode=status, -mode=chat 或 -mode=flush 指定测试模式")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
