package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("Web.Port = %d, want 3000", cfg.Web.Port)
	}
	if cfg.Gateway.ReconnectDelay != 5*time.Second {
		t.Errorf("ReconnectDelay = %v, want 5s", cfg.Gateway.ReconnectDelay)
	}
	if cfg.Gateway.PairingWait != 2*time.Second {
		t.Errorf("PairingWait = %v, want 2s", cfg.Gateway.PairingWait)
	}
	if cfg.Web.ApiKey != DefaultApiKey {
		t.Errorf("ApiKey = %q", cfg.Web.ApiKey)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfile := filepath.Join(dir, "wagateway.yml")
	content := `
system:
  workdir: ` + dir + `
web:
  port: 8088
gateway:
  reconnect_delay: 7s
  require_open_for_send: true
`
	if err := os.WriteFile(cfile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(cfile)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Web.Port != 8088 {
		t.Errorf("Web.Port = %d, want 8088", cfg.Web.Port)
	}
	if cfg.Gateway.ReconnectDelay != 7*time.Second {
		t.Errorf("ReconnectDelay = %v, want 7s", cfg.Gateway.ReconnectDelay)
	}
	if !cfg.Gateway.RequireOpenForSend {
		t.Error("RequireOpenForSend should be true")
	}
	// untouched keys keep their defaults
	if cfg.Gateway.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.Gateway.ShutdownTimeout)
	}
	if got, want := cfg.GetAuthDir(), filepath.Join(dir, "auth"); got != want {
		t.Errorf("GetAuthDir() = %q, want %q", got, want)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := cloneDefault()
	err := applyEnvOverrides(cfg, []string{
		"PORT=4000",
		"API_KEY=secret-key",
		"JWT_SECRET=jwt",
		"DEFAULT_PHONE_NUMBER=6281234567890",
		"NODE_ENV=development",
		"WAGW_GATEWAY_RECONNECT_DELAY=12s",
		"WAGW_MQTT_ENABLED=true",
		"WAGW_WEB_HOST=127.0.0.1",
		"UNRELATED=1",
	})
	if err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}
	if cfg.Web.Port != 4000 {
		t.Errorf("Web.Port = %d", cfg.Web.Port)
	}
	if cfg.Web.ApiKey != "secret-key" || cfg.Web.Secret != "jwt" {
		t.Errorf("credentials not overridden: %+v", cfg.Web)
	}
	if cfg.Gateway.DefaultPhone != "6281234567890" {
		t.Errorf("DefaultPhone = %q", cfg.Gateway.DefaultPhone)
	}
	if !cfg.System.Debug || cfg.Logger.Mode != "development" {
		t.Error("NODE_ENV=development should enable debug mode")
	}
	if cfg.Gateway.ReconnectDelay != 12*time.Second {
		t.Errorf("ReconnectDelay = %v", cfg.Gateway.ReconnectDelay)
	}
	if !cfg.Mqtt.Enabled {
		t.Error("Mqtt.Enabled should be true")
	}
	if cfg.Web.Host != "127.0.0.1" {
		t.Errorf("Web.Host = %q", cfg.Web.Host)
	}
	if DefaultAppConfig.Web.Port != 3000 {
		t.Error("overrides must not leak into DefaultAppConfig")
	}
}

func TestApplyEnvOverridesInvalidPort(t *testing.T) {
	cfg := cloneDefault()
	if err := applyEnvOverrides(cfg, []string{"PORT=abc"}); err == nil {
		t.Fatal("expected error for non numeric PORT")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{"defaults", func(*AppConfig) {}, false},
		{"bad port", func(c *AppConfig) { c.Web.Port = 70000 }, true},
		{"empty api key", func(c *AppConfig) { c.Web.ApiKey = "" }, true},
		{"unknown db", func(c *AppConfig) { c.Database.Type = "oracle" }, true},
		{"zero reconnect delay", func(c *AppConfig) { c.Gateway.ReconnectDelay = 0 }, true},
		{"mqtt without broker", func(c *AppConfig) { c.Mqtt.Enabled = true; c.Mqtt.Broker = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := cloneDefault()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteConfigRoundTrip(t *testing.T) {
	cfile := filepath.Join(t.TempDir(), "out.yml")
	if err := WriteConfig(DefaultAppConfig, cfile); err != nil {
		t.Fatalf("WriteConfig() error = %v", err)
	}
	cfg, err := LoadConfig(cfile)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Gateway.PairingWait != DefaultAppConfig.Gateway.PairingWait {
		t.Errorf("PairingWait = %v", cfg.Gateway.PairingWait)
	}
}
