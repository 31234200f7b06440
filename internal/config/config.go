// Package config loads castctl.toml. Every key is optional; unset keys
// keep their defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/castctl/internal/channel"
	"github.com/danmuck/castctl/internal/logging"
	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/transport"
)

var ErrInvalidConfig = errors.New("config: invalid")

type DeviceConfig struct {
	Host string
	Port int
}

type LogConfig struct {
	Level          string
	TraceEnvelopes bool
}

type MetricsConfig struct {
	// Addr serves /metrics when non-empty.
	Addr string
}

type Config struct {
	Device    DeviceConfig
	Transport transport.Config
	Heartbeat channel.HeartbeatConfig
	Retry     channel.RetryPolicy
	Log       LogConfig
	Metrics   MetricsConfig
}

func Default() Config {
	return Config{
		Device:    DeviceConfig{Port: protocol.DefaultPort},
		Transport: transport.DefaultConfig(),
		Heartbeat: channel.DefaultHeartbeatConfig(),
		Retry:     channel.DefaultRetryPolicy(),
		Log:       LogConfig{Level: "info"},
	}
}

type fileConfig struct {
	Device struct {
		Host string `toml:"host"`
		Port int    `toml:"port"`
	} `toml:"device"`
	Transport struct {
		ConnectTimeout   string `toml:"connect_timeout"`
		HandshakeTimeout string `toml:"handshake_timeout"`
		WriteTimeout     string `toml:"write_timeout"`
	} `toml:"transport"`
	TLS struct {
		Verify     bool   `toml:"verify"`
		CAFile     string `toml:"ca_file"`
		ServerName string `toml:"server_name"`
	} `toml:"tls"`
	Heartbeat struct {
		Interval string `toml:"interval"`
		Timeout  string `toml:"timeout"`
	} `toml:"heartbeat"`
	Request struct {
		RetryInterval string `toml:"retry_interval"`
		MaxAttempts   int    `toml:"max_attempts"`
	} `toml:"request"`
	Log struct {
		Level          string `toml:"level"`
		TraceEnvelopes bool   `toml:"trace_envelopes"`
	} `toml:"log"`
	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`
}

// Load reads path over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load castctl config (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %s in %s", ErrInvalidConfig, undecoded[0], path)
	}

	if meta.IsDefined("device", "host") {
		cfg.Device.Host = strings.TrimSpace(raw.Device.Host)
	}
	if meta.IsDefined("device", "port") {
		cfg.Device.Port = raw.Device.Port
	}

	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"transport", "connect_timeout"}, raw.Transport.ConnectTimeout, &cfg.Transport.ConnectTimeout},
		{[]string{"transport", "handshake_timeout"}, raw.Transport.HandshakeTimeout, &cfg.Transport.HandshakeTimeout},
		{[]string{"transport", "write_timeout"}, raw.Transport.WriteTimeout, &cfg.Transport.WriteTimeout},
		{[]string{"heartbeat", "interval"}, raw.Heartbeat.Interval, &cfg.Heartbeat.Interval},
		{[]string{"heartbeat", "timeout"}, raw.Heartbeat.Timeout, &cfg.Heartbeat.Timeout},
		{[]string{"request", "retry_interval"}, raw.Request.RetryInterval, &cfg.Retry.Interval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if meta.IsDefined("tls", "verify") {
		cfg.Transport.TLS.Verify = raw.TLS.Verify
	}
	if meta.IsDefined("tls", "ca_file") {
		cfg.Transport.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("tls", "server_name") {
		cfg.Transport.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("request", "max_attempts") {
		cfg.Retry.MaxAttempts = raw.Request.MaxAttempts
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "trace_envelopes") {
		cfg.Log.TraceEnvelopes = raw.Log.TraceEnvelopes
	}
	if meta.IsDefined("metrics", "addr") {
		cfg.Metrics.Addr = strings.TrimSpace(raw.Metrics.Addr)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Device.Host != "" && net.ParseIP(c.Device.Host) == nil {
		return fmt.Errorf("%w: device.host must be an ip literal, got %q", ErrInvalidConfig, c.Device.Host)
	}
	if c.Device.Port <= 0 || c.Device.Port > 65535 {
		return fmt.Errorf("%w: device.port out of range: %d", ErrInvalidConfig, c.Device.Port)
	}
	if c.Transport.ConnectTimeout <= 0 || c.Transport.HandshakeTimeout <= 0 || c.Transport.WriteTimeout <= 0 {
		return fmt.Errorf("%w: transport timeouts must be positive", ErrInvalidConfig)
	}
	if c.Transport.TLS.CAFile != "" && !c.Transport.TLS.Verify {
		return fmt.Errorf("%w: tls.ca_file requires tls.verify", ErrInvalidConfig)
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("%w: heartbeat.interval must be positive", ErrInvalidConfig)
	}
	if c.Heartbeat.Timeout <= c.Heartbeat.Interval {
		return fmt.Errorf("%w: heartbeat.timeout %s must exceed heartbeat.interval %s", ErrInvalidConfig, c.Heartbeat.Timeout, c.Heartbeat.Interval)
	}
	if c.Retry.Interval <= 0 {
		return fmt.Errorf("%w: request.retry_interval must be positive", ErrInvalidConfig)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("%w: request.max_attempts must not be negative", ErrInvalidConfig)
	}
	if c.Log.Level != "" {
		if _, ok := logging.ParseLevel(c.Log.Level); !ok {
			return fmt.Errorf("%w: unknown log.level %q", ErrInvalidConfig, c.Log.Level)
		}
	}
	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return fmt.Errorf("%w: metrics.addr: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}
