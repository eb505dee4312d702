package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
	Widget  WidgetConfig  `toml:"widget"`
	Status  StatusConfig  `toml:"status"`
	Webhook WebhookConfig `toml:"webhook"`
	Mounts  MountsConfig  `toml:"mounts"`
	AI      AIConfig      `toml:"ai"`
	DevHook DevHookConfig `toml:"devhook"`
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port           string   `toml:"port" env:"PORT"`
	PublicURL      string   `toml:"public_url" env:"WIDGET_PUBLIC_URL"`
	AllowedOrigins []string `toml:"allowed_origins" env:"WIDGET_ALLOWED_ORIGINS" envSeparator:","`
	Addr           string   `toml:"-"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string `toml:"level" env:"LOG_LEVEL"`
	Format string `toml:"format" env:"LOG_FORMAT"`
}

// WidgetConfig 提供挂载时合并的默认值。
type WidgetConfig struct {
	DefaultWebhookURL string   `toml:"default_webhook_url" env:"WIDGET_DEFAULT_WEBHOOK_URL"`
	PreviewQueryParam string   `toml:"preview_query_param" env:"WIDGET_PREVIEW_QUERY_PARAM"`
	PreviewReferrers  []string `toml:"preview_referrers" env:"WIDGET_PREVIEW_REFERRERS" envSeparator:","`
	TimeZone          string   `toml:"time_zone" env:"WIDGET_TIME_ZONE"`
}

// StatusConfig 描述账户状态查询与缓存。
type StatusConfig struct {
	Endpoint  string        `toml:"endpoint" env:"STATUS_ENDPOINT"`
	CacheTTL  time.Duration `toml:"cache_ttl" env:"STATUS_CACHE_TTL"`
	CacheSize int           `toml:"cache_size" env:"STATUS_CACHE_SIZE"`
	// CacheDir 非空时使用 pebble 持久化缓存。
	CacheDir string `toml:"cache_dir" env:"STATUS_CACHE_DIR"`
}

// WebhookConfig 描述出站请求的超时。
type WebhookConfig struct {
	Timeout      time.Duration `toml:"timeout" env:"WEBHOOK_TIMEOUT"`
	FlushTimeout time.Duration `toml:"flush_timeout" env:"WEBHOOK_FLUSH_TIMEOUT"`
}

// MountsConfig 描述挂载生命周期与事件限流。
type MountsConfig struct {
	IdleTTL      time.Duration `toml:"idle_ttl" env:"MOUNT_IDLE_TTL"`
	ReapInterval time.Duration `toml:"reap_interval" env:"MOUNT_REAP_INTERVAL"`
	EventRate    float64       `toml:"event_rate" env:"MOUNT_EVENT_RATE"`
	EventBurst   int           `toml:"event_burst" env:"MOUNT_EVENT_BURST"`
	// CreateRate 按客户端 IP 限制新建挂载的速率。
	CreateRate  float64 `toml:"create_rate" env:"MOUNT_CREATE_RATE"`
	CreateBurst int     `toml:"create_burst" env:"MOUNT_CREATE_BURST"`
}

// AIConfig 描述大模型相关配置，仅 devhook 使用。
type AIConfig struct {
	APIKey       string   `toml:"api_key" env:"ARK_API_KEY"`
	AccessKey    string   `toml:"access_key" env:"ARK_ACCESS_KEY"`
	SecretKey    string   `toml:"secret_key" env:"ARK_SECRET_KEY"`
	Model        string   `toml:"model" env:"ARK_MODEL"`
	BaseURL      string   `toml:"base_url" env:"ARK_BASE_URL"`
	Region       string   `toml:"region" env:"ARK_REGION"`
	Temperature  *float64 `toml:"temperature" env:"ARK_TEMPERATURE"`
	TopP         *float64 `toml:"top_p" env:"ARK_TOP_P"`
	MaxTokens    *int     `toml:"max_tokens" env:"ARK_MAX_TOKENS"`
	SystemPrompt string   `toml:"system_prompt" env:"ASSISTANT_SYSTEM_PROMPT"`
	HistoryLimit int      `toml:"history_limit" env:"ASSISTANT_HISTORY_LIMIT"`
}

// DevHookConfig 描述本地 webhook 模拟服务。
type DevHookConfig struct {
	Port          string            `toml:"port" env:"DEVHOOK_PORT"`
	DefaultStatus string            `toml:"default_status" env:"DEVHOOK_DEFAULT_STATUS"`
	Statuses      map[string]string `toml:"statuses" env:"DEVHOOK_STATUSES"`
	Addr          string            `toml:"-"`
}

// Default 返回内置默认配置。
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Log:    LogConfig{Level: "info", Format: "console"},
		Widget: WidgetConfig{
			DefaultWebhookURL: "https://hooks.optinbot.io/webhook/45870825-42b8-4457-aef9-f9ba71d44d1a/chat",
			PreviewQueryParam: "optinbot_preview",
			PreviewReferrers:  []string{"app.optinbot.io"},
		},
		Status: StatusConfig{
			Endpoint:  "https://hooks.optinbot.io/webhook/7e99a537-9bd6-4eb6-8a56-4c80471f1988",
			CacheTTL:  12 * time.Hour,
			CacheSize: 10000,
		},
		Webhook: WebhookConfig{
			Timeout:      10 * time.Second,
			FlushTimeout: 10 * time.Second,
		},
		Mounts: MountsConfig{
			IdleTTL:      30 * time.Minute,
			ReapInterval: time.Minute,
			EventRate:    20,
			EventBurst:   40,
			CreateRate:   2,
			CreateBurst:  10,
		},
		AI: AIConfig{
			BaseURL:      "https://ark.cn-beijing.volces.com/api/v3",
			Region:       "cn-beijing",
			SystemPrompt: "You are a friendly website assistant. Answer briefly and helpfully.",
			HistoryLimit: 20,
		},
		DevHook: DevHookConfig{
			Port:          "5678",
			DefaultStatus: "active",
		},
	}
}

// Load 依次应用默认值、TOML 配置文件与环境变量。path 为空或文件不存在时跳过文件。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	addr, err := normalizeAddr("PORT", cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	devAddr, err := normalizeAddr("DEVHOOK_PORT", cfg.DevHook.Port)
	if err != nil {
		return nil, err
	}
	cfg.DevHook.Addr = devAddr

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Webhook.Timeout <= 0 {
		return fmt.Errorf("invalid webhook timeout: %s", c.Webhook.Timeout)
	}
	if c.Webhook.FlushTimeout <= 0 {
		c.Webhook.FlushTimeout = c.Webhook.Timeout
	}
	if c.Status.CacheTTL < 0 {
		return fmt.Errorf("invalid status cache ttl: %s", c.Status.CacheTTL)
	}
	if c.Mounts.EventRate < 0 || c.Mounts.EventBurst < 0 {
		return fmt.Errorf("invalid mount event limits: rate=%v burst=%d", c.Mounts.EventRate, c.Mounts.EventBurst)
	}
	if c.Mounts.CreateRate < 0 || c.Mounts.CreateBurst < 0 {
		return fmt.Errorf("invalid mount create limits: rate=%v burst=%d", c.Mounts.CreateRate, c.Mounts.CreateBurst)
	}
	if c.Mounts.ReapInterval <= 0 {
		c.Mounts.ReapInterval = time.Minute
	}
	if c.AI.HistoryLimit < 1 {
		c.AI.HistoryLimit = 1
	}
	return nil
}

// normalizeAddr 解析监听地址。
func normalizeAddr(key, port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid %s value: %q", key, port)
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	return ":" + port, nil
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}
