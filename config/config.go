package config

import (
	"errors"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Chat         ChatConfig         `mapstructure:"chat"`
	Notification NotificationConfig `mapstructure:"notification"`
	Retention    RetentionConfig    `mapstructure:"retention"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Sentry       SentryConfig       `mapstructure:"sentry"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// StorageConfig 持久化 KV 后端配置
// driver: memory | redis | sqlite | postgres | pebble
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	RedisAddr  string `mapstructure:"redis_addr"`
	RedisDB    int    `mapstructure:"redis_db"`
	Namespace  string `mapstructure:"namespace"`
	PebblePath string `mapstructure:"pebble_path"`
	PebbleSync bool   `mapstructure:"pebble_sync"`
}

type ChatConfig struct {
	ConversationPollInterval time.Duration   `mapstructure:"conversation_poll_interval"`
	UserPollInterval         time.Duration   `mapstructure:"user_poll_interval"`
	Reconcile                ReconcileConfig `mapstructure:"reconcile"`
}

// ReconcileConfig 扇出失败补偿（默认关闭）
type ReconcileConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	Workers   int  `mapstructure:"workers"`
	QueueSize int  `mapstructure:"queue_size"`
}

type NotificationConfig struct {
	ListenerInterval   time.Duration `mapstructure:"listener_interval"`
	SeenPruneThreshold int           `mapstructure:"seen_prune_threshold"`
	Alerts             bool          `mapstructure:"alerts"`
}

type RetentionConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Cron    string        `mapstructure:"cron"`
	MaxAge  time.Duration `mapstructure:"max_age"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

const envPrefix = "LOCALSYNC"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "localsync.db")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.namespace", "localsync")
	v.SetDefault("storage.pebble_path", "data/pebble")
	v.SetDefault("storage.pebble_sync", true)

	v.SetDefault("chat.conversation_poll_interval", 3*time.Second)
	v.SetDefault("chat.user_poll_interval", 5*time.Second)
	v.SetDefault("chat.reconcile.enabled", false)
	v.SetDefault("chat.reconcile.workers", 2)
	v.SetDefault("chat.reconcile.queue_size", 1024)

	v.SetDefault("notification.listener_interval", 5*time.Second)
	v.SetDefault("notification.seen_prune_threshold", 500)
	v.SetDefault("notification.alerts", true)

	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.cron", "0 3 * * *")
	v.SetDefault("retention.max_age", 720*time.Hour)

	v.SetDefault("jwt.secret", "change-me")
	v.SetDefault("sentry.environment", "development")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "localsync")
	v.SetDefault("ratelimit.rps", 20.0)
	v.SetDefault("ratelimit.burst", 40)
}

var current *viper.Viper

// Load 读取配置：.env -> config.yaml -> 环境变量（LOCALSYNC_ 前缀）
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	current = v
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch 监听配置文件变化，回调拿到重新解析后的配置。
// 未找到配置文件时不做任何事。
func Watch(onChange func(*Config)) {
	v := current
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}
