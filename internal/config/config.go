package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wwwzy/loopie/internal/assistant"
	"github.com/wwwzy/loopie/internal/automation"
	"github.com/wwwzy/loopie/internal/backend"
	"github.com/wwwzy/loopie/internal/capture"
	"github.com/wwwzy/loopie/internal/observability"
	"github.com/wwwzy/loopie/internal/retention"
	"github.com/wwwzy/loopie/internal/storage"
	"github.com/wwwzy/loopie/internal/transcribe"
)

const (
	// ProviderBackend 通过后端 /ask-gemini 回答问题。
	ProviderBackend = "backend"
	// ProviderArk 直接调用 Ark 模型。
	ProviderArk = "ark"

	DefaultBackendURL = "http://localhost:8000"
)

type AskConfig struct {
	Provider string `mapstructure:"provider"`
}

type Config struct {
	Backend     backend.Config        `mapstructure:"backend"`
	Automation  automation.Config     `mapstructure:"automation"`
	Capture     capture.Config        `mapstructure:"capture"`
	Transcribe  transcribe.Config     `mapstructure:"transcribe"`
	Credentials assistant.Credentials `mapstructure:"credentials"`
	Ask         AskConfig             `mapstructure:"ask"`
	Ark         assistant.ArkConfig   `mapstructure:"ark"`
	Storage     storage.Config        `mapstructure:"storage"`
	Retention   retention.Config      `mapstructure:"retention"`
	Log         observability.Config  `mapstructure:"log"`
}

func Load(cfgFile string) (*Config, error) {
	// 1. 初始化 Viper
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.loopie")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("LOOPIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal 只处理 viper 已知的 key，因此每个字段都需要默认值
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	// 2. 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	// 3. 反序列化 (文件/环境变量 覆盖 默认值)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 4. 验证关键配置
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("backend.base_url is required (or set LOOPIE_BACKEND_URL)")
	}
	if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("backend.base_url is invalid: %w", err)
	}
	if c.Automation.MaxSteps <= 0 {
		return fmt.Errorf("automation.max_steps must be > 0, got %d", c.Automation.MaxSteps)
	}

	switch c.Ask.Provider {
	case ProviderBackend:
	case ProviderArk:
		if c.Ark.APIKey == "" {
			return errors.New("ark.api_key is required when ask.provider=ark (or set ARK_API_KEY)")
		}
		if c.Ark.ModelID == "" {
			return errors.New("ark.model_id is required when ask.provider=ark (or set ARK_MODEL_ID)")
		}
	default:
		return fmt.Errorf("unknown ask.provider %q", c.Ask.Provider)
	}
	return nil
}

func bindEnv(v *viper.Viper) error {
	binds := map[string][]string{
		"backend.base_url":       {"LOOPIE_BACKEND_URL", "VITE_BACKEND_URL"},
		"credentials.gemini_key": {"LOOPIE_CREDENTIALS_GEMINI_KEY", "GEMINI_API_KEY"},
		"credentials.groq_key":   {"LOOPIE_CREDENTIALS_GROQ_KEY", "GROQ_API_KEY"},
		"ark.api_key":            {"ARK_API_KEY"},
		"ark.model_id":           {"ARK_MODEL_ID"},
		"ark.base_url":           {"ARK_BASE_URL"},
	}
	for key, envs := range binds {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// -------------------------------------------------------------------------
	// Backend
	// -------------------------------------------------------------------------
	v.SetDefault("backend.base_url", d.Backend.BaseURL)
	v.SetDefault("backend.timeout", d.Backend.Timeout)
	v.SetDefault("backend.rate_limit", d.Backend.RateLimit)
	v.SetDefault("backend.burst", d.Backend.Burst)

	// -------------------------------------------------------------------------
	// Automation / Capture / Transcribe
	// -------------------------------------------------------------------------
	v.SetDefault("automation.max_steps", d.Automation.MaxSteps)
	v.SetDefault("automation.step_delay", d.Automation.StepDelay)

	v.SetDefault("capture.command", d.Capture.Command)
	v.SetDefault("capture.args", d.Capture.Args)
	v.SetDefault("capture.file", d.Capture.File)
	v.SetDefault("capture.timeout", d.Capture.Timeout)

	v.SetDefault("transcribe.endpoint", d.Transcribe.Endpoint)
	v.SetDefault("transcribe.model", d.Transcribe.Model)
	v.SetDefault("transcribe.response_format", d.Transcribe.ResponseFormat)
	v.SetDefault("transcribe.timeout", d.Transcribe.Timeout)

	// -------------------------------------------------------------------------
	// Assistant
	// -------------------------------------------------------------------------
	v.SetDefault("credentials.gemini_key", "")
	v.SetDefault("credentials.groq_key", "")
	v.SetDefault("ask.provider", d.Ask.Provider)
	v.SetDefault("ark.api_key", "")
	v.SetDefault("ark.model_id", "")
	v.SetDefault("ark.base_url", d.Ark.BaseURL)

	// -------------------------------------------------------------------------
	// Storage / Retention
	// -------------------------------------------------------------------------
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.in_memory", d.Storage.InMemory)
	v.SetDefault("storage.enable_wal", d.Storage.EnableWAL)
	v.SetDefault("storage.busy_timeout", d.Storage.BusyTimeout)

	v.SetDefault("retention.enabled", d.Retention.Enabled)
	v.SetDefault("retention.interval", d.Retention.Interval)
	v.SetDefault("retention.workers", d.Retention.Workers)
	v.SetDefault("retention.batch_rows", d.Retention.BatchRows)
	v.SetDefault("retention.idle_sleep", d.Retention.IdleSleep)
	v.SetDefault("retention.runs_keep", d.Retention.RunsKeep)
	v.SetDefault("retention.messages_keep", d.Retention.MessagesKeep)

	// -------------------------------------------------------------------------
	// Log
	// -------------------------------------------------------------------------
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("log.add_source", d.Log.AddSource)
	v.SetDefault("log.quiet", d.Log.Quiet)
}

func DefaultConfig() Config {
	return Config{
		Backend: backend.Config{
			BaseURL: DefaultBackendURL,
			Timeout: backend.DefaultTimeout,
			Burst:   1,
		},
		Automation: automation.DefaultConfig(),
		Capture: capture.Config{
			Timeout: capture.DefaultTimeout,
		},
		Transcribe: transcribe.Config{
			Endpoint:       transcribe.DefaultEndpoint,
			Model:          transcribe.DefaultModel,
			ResponseFormat: transcribe.DefaultResponseFormat,
			Timeout:        transcribe.DefaultTimeout,
		},
		Ask: AskConfig{Provider: ProviderBackend},
		Ark: assistant.ArkConfig{
			BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
		},
		Storage: storage.Config{
			Path:        "loopie.db",
			EnableWAL:   true,
			BusyTimeout: 5 * time.Second,
		},
		Retention: retention.DefaultConfig(),
		Log: observability.Config{
			Level:      "info",
			Format:     "console",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}
