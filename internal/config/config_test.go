package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/castctl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "castctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadTemplateMatchesDefaults(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "castctl.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("template drifted from defaults:\n got %+v\nwant %+v", cfg, Default())
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected existing config to be kept")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite template: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
[device]
host = " 192.168.1.20 "
port = 8010

[transport]
connect_timeout = "2s"

[tls]
verify = true
ca_file = "/etc/castctl/ca.pem"

[heartbeat]
interval = "1s"
timeout = "10s"

[request]
retry_interval = "500ms"
max_attempts = 4

[log]
level = "debug"
trace_envelopes = true

[metrics]
addr = "127.0.0.1:9464"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Device.Host != "192.168.1.20" || cfg.Device.Port != 8010 {
		t.Fatalf("unexpected device: %+v", cfg.Device)
	}
	if cfg.Transport.ConnectTimeout != 2*time.Second {
		t.Fatalf("unexpected connect timeout: %v", cfg.Transport.ConnectTimeout)
	}
	if cfg.Transport.HandshakeTimeout != Default().Transport.HandshakeTimeout {
		t.Fatalf("handshake timeout should keep its default: %v", cfg.Transport.HandshakeTimeout)
	}
	if !cfg.Transport.TLS.Verify || cfg.Transport.TLS.CAFile != "/etc/castctl/ca.pem" {
		t.Fatalf("unexpected tls: %+v", cfg.Transport.TLS)
	}
	if cfg.Heartbeat.Interval != time.Second || cfg.Heartbeat.Timeout != 10*time.Second {
		t.Fatalf("unexpected heartbeat: %+v", cfg.Heartbeat)
	}
	if cfg.Retry.Interval != 500*time.Millisecond || cfg.Retry.MaxAttempts != 4 {
		t.Fatalf("unexpected retry: %+v", cfg.Retry)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.TraceEnvelopes {
		t.Fatalf("unexpected log: %+v", cfg.Log)
	}
	if cfg.Metrics.Addr != "127.0.0.1:9464" {
		t.Fatalf("unexpected metrics addr: %q", cfg.Metrics.Addr)
	}

	clientCfg := cfg.Client()
	if clientCfg.Port != 8010 || !clientCfg.TraceEnvelopes || clientCfg.Retry.MaxAttempts != 4 {
		t.Fatalf("unexpected client config: %+v", clientCfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"hostname":       "[device]\nhost = \"living-room.local\"\n",
		"port":           "[device]\nport = 70000\n",
		"heartbeat":      "[heartbeat]\ninterval = \"30s\"\ntimeout = \"30s\"\n",
		"retry":          "[request]\nretry_interval = \"0s\"\n",
		"max attempts":   "[request]\nmax_attempts = -1\n",
		"log level":      "[log]\nlevel = \"loud\"\n",
		"ca without tls": "[tls]\nca_file = \"/tmp/ca.pem\"\n",
		"metrics addr":   "[metrics]\naddr = \"9464\"\n",
		"unknown key":    "[device]\nname = \"tv\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadReportsBadDurationAndMissingFile(t *testing.T) {
	testlog.Start(t)
	if _, err := Load(writeConfig(t, "[transport]\nwrite_timeout = \"soon\"\n")); err == nil {
		t.Fatalf("expected duration parse error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestApplyEnvOverridesFile(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, "[device]\nhost = \"10.0.0.5\"\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	t.Setenv("CASTCTL_DEVICE_HOST", "10.0.0.9")
	t.Setenv("CASTCTL_REQUEST_MAX_ATTEMPTS", "3")
	t.Setenv("CASTCTL_REQUEST_RETRY_INTERVAL", "250ms")
	t.Setenv("CASTCTL_TRACE_ENVELOPES", "true")
	if err := ApplyEnv(&cfg); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Device.Host != "10.0.0.9" {
		t.Fatalf("unexpected host: %q", cfg.Device.Host)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.Interval != 250*time.Millisecond {
		t.Fatalf("unexpected retry: %+v", cfg.Retry)
	}
	if !cfg.Log.TraceEnvelopes {
		t.Fatalf("expected envelope tracing")
	}
	if cfg.Device.Port != Default().Device.Port {
		t.Fatalf("unset variables must keep file values: port=%d", cfg.Device.Port)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	t.Setenv("CASTCTL_DEVICE_PORT", "eighty")
	if err := ApplyEnv(&cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	cfg = Default()
	t.Setenv("CASTCTL_DEVICE_PORT", "0")
	if err := ApplyEnv(&cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for port 0, got %v", err)
	}
}
