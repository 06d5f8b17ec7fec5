package config

import (
	"errors"
	"net/url"
	"os"
	"reflect"
	"testing"
	"time"

	"multichat/internal/chat"
)

// clearEnv unsets every variable Config reads. t.Setenv restores the
// original values when the test ends.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys(reflect.TypeOf(Config{})) {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func envKeys(typ reflect.Type) []string {
	var keys []string
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if f.Type.Kind() == reflect.Struct {
			keys = append(keys, envKeys(f.Type)...)
			continue
		}
		if k := f.Tag.Get("env"); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func TestAmbientEnvironmentIsIgnored(t *testing.T) {
	t.Setenv("ANTHROPIC_BASE_URL", "http://127.0.0.1:48271")
	t.Setenv("OPENAI_API_KEY", "sk-ambient")
	t.Setenv("DEVICE_STORE", "bolt")
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if urls := cfg.BaseURLs(); len(urls) != 0 {
		t.Fatalf("ambient base url leaked: %v", urls)
	}
	if key := cfg.EnvCredentials()[chat.ProviderOpenAI]; key != "" {
		t.Fatalf("ambient credential leaked: %q", key)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RemoteConfigured() {
		t.Fatalf("remote must not be selected without url and key")
	}
	if cfg.Device.Store != DeviceSQLite || cfg.Device.Namespace != "multichat" || cfg.Remote.Driver != DriverPostgres {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.HTTP.HeaderTimeout != 2*time.Minute || cfg.HTTP.MetricsPath != "/metrics" {
		t.Fatalf("unexpected http defaults %+v", cfg.HTTP)
	}
	if !cfg.Remote.AutoMigrate {
		t.Fatalf("auto migrate should default to true")
	}
}

func TestRemoteSelectedOnlyWithBothValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("REMOTE_STORE_URL", "postgres://app@db.example:5432/chats?sslmode=require")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RemoteConfigured() {
		t.Fatalf("url alone must not select the remote backend")
	}

	t.Setenv("REMOTE_STORE_KEY", "s3cr3t/key")
	cfg, err = FromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.RemoteConfigured() {
		t.Fatalf("url and key should select the remote backend")
	}

	dsn, err := cfg.RemoteDSN()
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	pw, _ := u.User.Password()
	if u.User.Username() != "app" || pw != "s3cr3t/key" || u.Host != "db.example:5432" || u.Query().Get("sslmode") != "require" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
}

func TestRemoteDSNSQLite(t *testing.T) {
	clearEnv(t)
	t.Setenv("REMOTE_STORE_URL", "file:/var/lib/multichat/remote.db")
	t.Setenv("REMOTE_STORE_KEY", "unused")
	t.Setenv("REMOTE_STORE_DRIVER", "SQLite")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dsn, err := cfg.RemoteDSN()
	if err != nil || dsn != "file:/var/lib/multichat/remote.db" {
		t.Fatalf("unexpected sqlite dsn %q err=%v", dsn, err)
	}
}

func TestRemoteDSNRejectsOtherSchemes(t *testing.T) {
	clearEnv(t)
	t.Setenv("REMOTE_STORE_URL", "https://project.example.co")
	t.Setenv("REMOTE_STORE_KEY", "anon")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cfg.RemoteDSN(); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestInvalidDeviceStore(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEVICE_STORE", "bolt")
	if _, err := FromEnv(); !errors.Is(err, ErrInvalidDeviceStore) {
		t.Fatalf("expected invalid device store, got %v", err)
	}
}

func TestCredentialsAndBaseURLs(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEEPSEEK_API_KEY", "sk-ds")
	t.Setenv("DASHSCOPE_BASE_URL", " https://dashscope-intl.aliyuncs.com ")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EnvCredentials()[chat.ProviderDeepSeek] != "sk-ds" {
		t.Fatalf("missing env credential")
	}
	urls := cfg.BaseURLs()
	if len(urls) != 1 || urls[chat.ProviderQwen] != "https://dashscope-intl.aliyuncs.com" {
		t.Fatalf("unexpected base urls %v", urls)
	}
}
