package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"multichat/internal/chat"
)

const (
	DeviceSQLite = "sqlite"
	DeviceRedis  = "redis"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrInvalidDeviceStore = errors.New("DEVICE_STORE must be 'sqlite' or 'redis'")
	ErrInvalidDriver      = errors.New("REMOTE_STORE_DRIVER must be 'postgres' or 'sqlite'")
	ErrMissingNamespace   = errors.New("STORE_NAMESPACE must not be empty")
)

type Config struct {
	Remote      RemoteConfig
	Device      DeviceConfig
	HTTP        HTTPConfig
	Credentials CredentialsConfig
	Log         LogConfig
}

// RemoteConfig selects the remote backend when both URL and Key are set.
type RemoteConfig struct {
	URL         string `env:"REMOTE_STORE_URL"`
	Key         string `env:"REMOTE_STORE_KEY"`
	Driver      string `env:"REMOTE_STORE_DRIVER" env-default:"postgres"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" env-default:"true"`
}

type DeviceConfig struct {
	Store         string `env:"DEVICE_STORE" env-default:"sqlite"`
	Path          string `env:"DEVICE_STORE_PATH" env-default:"multichat.db"`
	RedisAddr     string `env:"REDIS_ADDR" env-default:"127.0.0.1:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
	Namespace     string `env:"STORE_NAMESPACE" env-default:"multichat"`
}

// HTTPConfig.HeaderTimeout bounds the wait for a vendor's response headers.
// Streamed bodies run until the exchange's context ends.
type HTTPConfig struct {
	HeaderTimeout time.Duration `env:"HTTP_HEADER_TIMEOUT" env-default:"2m"`
	ListenAddr    string        `env:"HTTP_LISTEN_ADDR" env-default:"127.0.0.1:9090"`
	HealthPath    string        `env:"HEALTH_PATH" env-default:"/healthz"`
	MetricsPath   string        `env:"METRICS_PATH" env-default:"/metrics"`
}

// CredentialsConfig seeds provider keys from the environment. Keys saved on
// the device take precedence.
type CredentialsConfig struct {
	OpenAI    string `env:"OPENAI_API_KEY"`
	Anthropic string `env:"ANTHROPIC_API_KEY"`
	Google    string `env:"GOOGLE_API_KEY"`
	DeepSeek  string `env:"DEEPSEEK_API_KEY"`
	Zhipu     string `env:"ZHIPU_API_KEY"`
	Qwen      string `env:"DASHSCOPE_API_KEY"`

	OpenAIBaseURL    string `env:"OPENAI_BASE_URL"`
	AnthropicBaseURL string `env:"ANTHROPIC_BASE_URL"`
	GoogleBaseURL    string `env:"GOOGLE_BASE_URL"`
	DeepSeekBaseURL  string `env:"DEEPSEEK_BASE_URL"`
	ZhipuBaseURL     string `env:"ZHIPU_BASE_URL"`
	QwenBaseURL      string `env:"DASHSCOPE_BASE_URL"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" env-default:"info"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	cfg.Remote.URL = strings.TrimSpace(cfg.Remote.URL)
	cfg.Remote.Key = strings.TrimSpace(cfg.Remote.Key)
	cfg.Remote.Driver = strings.ToLower(strings.TrimSpace(cfg.Remote.Driver))
	cfg.Device.Store = strings.ToLower(strings.TrimSpace(cfg.Device.Store))
	cfg.Device.Namespace = strings.TrimSpace(cfg.Device.Namespace)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))

	if cfg.Remote.Driver != DriverPostgres && cfg.Remote.Driver != DriverSQLite {
		return nil, ErrInvalidDriver
	}
	if cfg.Device.Store != DeviceSQLite && cfg.Device.Store != DeviceRedis {
		return nil, ErrInvalidDeviceStore
	}
	if cfg.Device.Namespace == "" {
		return nil, ErrMissingNamespace
	}
	return &cfg, nil
}

// RemoteConfigured reports whether both remote values are present.
func (c *Config) RemoteConfigured() bool {
	return c.Remote.URL != "" && c.Remote.Key != ""
}

// RemoteDSN returns the connection string for the remote store. For postgres
// the access key becomes the connection password.
func (c *Config) RemoteDSN() (string, error) {
	if c.Remote.Driver == DriverSQLite {
		return c.Remote.URL, nil
	}
	u, err := url.Parse(c.Remote.URL)
	if err != nil {
		return "", fmt.Errorf("parse REMOTE_STORE_URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("REMOTE_STORE_URL must be a postgres:// url, got scheme %q", u.Scheme)
	}
	user := "postgres"
	if u.User != nil && u.User.Username() != "" {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, c.Remote.Key)
	return u.String(), nil
}

func (c *Config) EnvCredentials() map[chat.Provider]string {
	cc := c.Credentials
	return map[chat.Provider]string{
		chat.ProviderOpenAI:    cc.OpenAI,
		chat.ProviderAnthropic: cc.Anthropic,
		chat.ProviderGoogle:    cc.Google,
		chat.ProviderDeepSeek:  cc.DeepSeek,
		chat.ProviderZhipu:     cc.Zhipu,
		chat.ProviderQwen:      cc.Qwen,
	}
}

// BaseURLs returns the non-empty endpoint overrides.
func (c *Config) BaseURLs() map[chat.Provider]string {
	cc := c.Credentials
	all := map[chat.Provider]string{
		chat.ProviderOpenAI:    cc.OpenAIBaseURL,
		chat.ProviderAnthropic: cc.AnthropicBaseURL,
		chat.ProviderGoogle:    cc.GoogleBaseURL,
		chat.ProviderDeepSeek:  cc.DeepSeekBaseURL,
		chat.ProviderZhipu:     cc.ZhipuBaseURL,
		chat.ProviderQwen:      cc.QwenBaseURL,
	}
	out := make(map[chat.Provider]string, len(all))
	for p, v := range all {
		if v = strings.TrimSpace(v); v != "" {
			out[p] = v
		}
	}
	return out
}
