package config

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

const (
	DefaultApiKey    = "whatsapp_gateway_default_key"
	DefaultJwtSecret = "whatsapp_jwt_secret"
	envPrefix        = "WAGW_"
)

// SysConfig system config
type SysConfig struct {
	Appid    string `yaml:"appid" mapstructure:"appid"`
	Location string `yaml:"location" mapstructure:"location"`
	Workdir  string `yaml:"workdir" mapstructure:"workdir"`
	Debug    bool   `yaml:"debug" mapstructure:"debug"`
}

// WebConfig http api config
type WebConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ApiKey       string        `yaml:"api_key" mapstructure:"api_key"`
	Secret       string        `yaml:"secret" mapstructure:"secret"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// DBConfig database config, sqlite or postgres
type DBConfig struct {
	Type     string `yaml:"type" mapstructure:"type"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Name     string `yaml:"name" mapstructure:"name"`
	User     string `yaml:"user" mapstructure:"user"`
	Passwd   string `yaml:"passwd" mapstructure:"passwd"`
	MaxConn  int    `yaml:"max_conn" mapstructure:"max_conn"`
	IdleConn int    `yaml:"idle_conn" mapstructure:"idle_conn"`
	Debug    bool   `yaml:"debug" mapstructure:"debug"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" mapstructure:"mode"`
	FileEnable bool   `yaml:"file_enable" mapstructure:"file_enable"`
	Filename   string `yaml:"filename" mapstructure:"filename"`
}

// GatewayConfig controls the session lifecycle of every managed account.
type GatewayConfig struct {
	AuthDir            string        `yaml:"auth_dir" mapstructure:"auth_dir"`
	DefaultPhone       string        `yaml:"default_phone" mapstructure:"default_phone"`
	ReconnectDelay     time.Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay"`
	PairingWait        time.Duration `yaml:"pairing_wait" mapstructure:"pairing_wait"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	RequireOpenForSend bool          `yaml:"require_open_for_send" mapstructure:"require_open_for_send"`
	LogoutOnShutdown   bool          `yaml:"logout_on_shutdown" mapstructure:"logout_on_shutdown"`
	RestoreOnStart     bool          `yaml:"restore_on_start" mapstructure:"restore_on_start"`
	RestoreWorkers     int           `yaml:"restore_workers" mapstructure:"restore_workers"`
}

// MqttConfig optional event relay to an MQTT broker
type MqttConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker      string `yaml:"broker" mapstructure:"broker"`
	ClientID    string `yaml:"client_id" mapstructure:"client_id"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	TopicPrefix string `yaml:"topic_prefix" mapstructure:"topic_prefix"`
	Qos         int    `yaml:"qos" mapstructure:"qos"`
}

type AppConfig struct {
	System   SysConfig     `yaml:"system" mapstructure:"system"`
	Web      WebConfig     `yaml:"web" mapstructure:"web"`
	Database DBConfig      `yaml:"database" mapstructure:"database"`
	Logger   LogConfig     `yaml:"logger" mapstructure:"logger"`
	Gateway  GatewayConfig `yaml:"gateway" mapstructure:"gateway"`
	Mqtt     MqttConfig    `yaml:"mqtt" mapstructure:"mqtt"`
}

func (c *AppConfig) GetLogDir() string {
	return path.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return path.Join(c.System.Workdir, "data")
}

// GetAuthDir returns the root directory holding one auth_<phoneId> folder per account.
func (c *AppConfig) GetAuthDir() string {
	if c.Gateway.AuthDir != "" {
		return c.Gateway.AuthDir
	}
	return path.Join(c.System.Workdir, "auth")
}

func (c *AppConfig) InitDirs() error {
	for _, dir := range []string{c.GetLogDir(), c.GetDataDir(), c.GetAuthDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Wrapf(err, "create directory %s", dir)
		}
	}
	return nil
}

// Addr is the http listen address.
func (c *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "WaGateway",
		Location: "Asia/Jakarta",
		Workdir:  "/var/wagateway",
		Debug:    false,
	},
	Web: WebConfig{
		Host:         "0.0.0.0",
		Port:         3000,
		ApiKey:       DefaultApiKey,
		Secret:       DefaultJwtSecret,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	},
	Database: DBConfig{
		Type:     "sqlite",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "wagateway.db",
		User:     "postgres",
		Passwd:   "",
		MaxConn:  20,
		IdleConn: 5,
	},
	Logger: LogConfig{
		Mode:       "production",
		FileEnable: true,
		Filename:   "/var/wagateway/logs/wagateway.log",
	},
	Gateway: GatewayConfig{
		ReconnectDelay:  5 * time.Second,
		PairingWait:     2 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RestoreOnStart:  true,
		RestoreWorkers:  4,
	},
	Mqtt: MqttConfig{
		Broker:      "tcp://127.0.0.1:1883",
		ClientID:    "wagateway",
		TopicPrefix: "wagateway",
		Qos:         1,
	},
}

func cloneDefault() *AppConfig {
	cfg := *DefaultAppConfig
	return &cfg
}

// LoadConfig reads cfile when it exists, then applies environment overrides.
// An empty cfile yields the defaults plus overrides.
func LoadConfig(cfile string) (*AppConfig, error) {
	cfg := cloneDefault()
	if cfile != "" {
		data, err := os.ReadFile(cfile)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", cfile)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", cfile)
		}
	}
	if err := applyEnvOverrides(cfg, os.Environ()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteConfig dumps cfg as yaml to cfile.
func WriteConfig(cfg *AppConfig, cfile string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(cfile, data, 0o600)
}

// applyEnvOverrides handles the well known deployment variables first, then
// the generic WAGW_<SECTION>_<KEY> form, e.g. WAGW_GATEWAY_RECONNECT_DELAY=10s.
func applyEnvOverrides(cfg *AppConfig, environ []string) error {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			env[k] = v
		}
	}

	if v := env["PORT"]; v != "" {
		port, err := cast.ToIntE(v)
		if err != nil {
			return errors.Wrapf(err, "invalid PORT %q", v)
		}
		cfg.Web.Port = port
	}
	if v := env["API_KEY"]; v != "" {
		cfg.Web.ApiKey = v
	}
	if v := env["JWT_SECRET"]; v != "" {
		cfg.Web.Secret = v
	}
	if v := env["DEFAULT_PHONE_NUMBER"]; v != "" {
		cfg.Gateway.DefaultPhone = v
	}
	if env["NODE_ENV"] == "development" {
		cfg.System.Debug = true
		cfg.Logger.Mode = "development"
	}

	overrides := map[string]map[string]interface{}{}
	for k, v := range env {
		if !strings.HasPrefix(k, envPrefix) {
			continue
		}
		section, key, ok := strings.Cut(strings.ToLower(strings.TrimPrefix(k, envPrefix)), "_")
		if !ok || key == "" {
			continue
		}
		if overrides[section] == nil {
			overrides[section] = map[string]interface{}{}
		}
		overrides[section][key] = v
	}
	if len(overrides) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	input := make(map[string]interface{}, len(overrides))
	for section, values := range overrides {
		input[section] = values
	}
	return errors.Wrap(decoder.Decode(input), "apply WAGW_ environment overrides")
}

// Validate rejects configurations the gateway cannot run with.
func (c *AppConfig) Validate() error {
	var errs []string
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Sprintf("web.port %d out of range", c.Web.Port))
	}
	if c.Web.ApiKey == "" {
		errs = append(errs, "web.api_key is required")
	}
	if c.Web.Secret == "" {
		errs = append(errs, "web.secret is required")
	}
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("database.type %q not supported", c.Database.Type))
	}
	if c.Gateway.ReconnectDelay <= 0 {
		errs = append(errs, "gateway.reconnect_delay must be positive")
	}
	if c.Gateway.PairingWait < 0 {
		errs = append(errs, "gateway.pairing_wait must not be negative")
	}
	if c.Gateway.ShutdownTimeout <= 0 {
		errs = append(errs, "gateway.shutdown_timeout must be positive")
	}
	if c.Mqtt.Enabled && c.Mqtt.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	}
	if c.Mqtt.Qos < 0 || c.Mqtt.Qos > 2 {
		errs = append(errs, fmt.Sprintf("mqtt.qos %d out of range", c.Mqtt.Qos))
	}
	if len(errs) > 0 {
		return errors.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
