// Package config loads devicebridge settings from a JSON file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "devicebridge.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. DEVICEBRIDGE_SERVER_ADDRESS.
const EnvPrefix = "DEVICEBRIDGE"

// ErrNotFound is returned by Load when no config file exists. Defaults and
// environment overrides still apply.
var ErrNotFound = errors.New("config file not found")

// Defaults applied when a key is absent or invalid.
const (
	DefaultTickInterval    = time.Second
	DefaultHistorySize     = 20
	DefaultSendBuffer      = 16
	DefaultWriteTimeout    = 2 * time.Second
	DefaultPingInterval    = 30 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultTokenTTL        = time.Hour
)

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Address         string        `json:"address" mapstructure:"address"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" mapstructure:"shutdownTimeout"`
}

// SimulationConfig holds the tick clock and state settings
type SimulationConfig struct {
	TickInterval     time.Duration
	HistorySize      int
	Seed             uint64
	AdvanceOnConnect bool
}

// SessionConfig holds per-viewer outbound queue settings
type SessionConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration // zero disables keepalive pings
}

// AuthConfig holds mock login token settings
type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
}

// GraylogConfig holds GELF sink settings
type GraylogConfig struct {
	Enabled bool
	Address string
}

// OTelConfig holds OpenTelemetry log export settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// LogFileConfig holds log rotation settings
type LogFileConfig struct {
	MaxSizeMB  int
	MaxBackups int
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("logFile.maxSizeMB", 10)
	viper.SetDefault("logFile.maxBackups", 3)

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.shutdownTimeout", "5s")

	viper.SetDefault("simulation.tickIntervalMs", 1000)
	viper.SetDefault("simulation.historySize", DefaultHistorySize)
	viper.SetDefault("simulation.seed", 0)
	viper.SetDefault("simulation.advanceOnConnect", true)

	viper.SetDefault("session.sendBuffer", DefaultSendBuffer)
	viper.SetDefault("session.writeTimeout", "2s")
	viper.SetDefault("session.pingInterval", DefaultPingInterval.String())

	viper.SetDefault("auth.secret", "devicebridge-dev-secret")
	viper.SetDefault("auth.tokenTTL", "1h")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "devicebridge")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("%w in %s", ErrNotFound, configDir)
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

func positiveDuration(key string, fallback time.Duration) time.Duration {
	if d := viper.GetDuration(key); d > 0 {
		return d
	}
	return fallback
}

// GetServerConfig returns the HTTP listener settings.
func GetServerConfig() ServerConfig {
	addr := viper.GetString("server.address")
	if addr == "" {
		addr = ":8080"
	}
	return ServerConfig{
		Address:         addr,
		ShutdownTimeout: positiveDuration("server.shutdownTimeout", DefaultShutdownTimeout),
	}
}

// GetSimulationConfig returns the tick and state settings. A non-positive
// interval or history size falls back to its default.
func GetSimulationConfig() SimulationConfig {
	cfg := SimulationConfig{
		TickInterval:     time.Duration(viper.GetInt64("simulation.tickIntervalMs")) * time.Millisecond,
		HistorySize:      viper.GetInt("simulation.historySize"),
		Seed:             viper.GetUint64("simulation.seed"),
		AdvanceOnConnect: viper.GetBool("simulation.advanceOnConnect"),
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	return cfg
}

// GetSessionConfig returns per-viewer queue and keepalive settings. An
// explicit "0s" ping interval turns keepalive off; negative values count as off.
func GetSessionConfig() SessionConfig {
	buf := viper.GetInt("session.sendBuffer")
	if buf <= 0 {
		buf = DefaultSendBuffer
	}
	ping := viper.GetDuration("session.pingInterval")
	if ping < 0 {
		ping = 0
	}
	return SessionConfig{
		SendBuffer:   buf,
		WriteTimeout: positiveDuration("session.writeTimeout", DefaultWriteTimeout),
		PingInterval: ping,
	}
}

// GetAuthConfig returns the mock login settings.
func GetAuthConfig() AuthConfig {
	return AuthConfig{
		Secret:   viper.GetString("auth.secret"),
		TokenTTL: positiveDuration("auth.tokenTTL", DefaultTokenTTL),
	}
}

// GetGraylogConfig returns the GELF sink settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: positiveDuration("otel.batchTimeout", 5*time.Second),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetLogFileConfig returns log rotation settings.
func GetLogFileConfig() LogFileConfig {
	return LogFileConfig{
		MaxSizeMB:  viper.GetInt("logFile.maxSizeMB"),
		MaxBackups: viper.GetInt("logFile.maxBackups"),
	}
}
