package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Environment overrides sit between the file and command-line flags.
type envOverrides struct {
	Host           *string        `env:"CASTCTL_DEVICE_HOST"`
	Port           *int           `env:"CASTCTL_DEVICE_PORT"`
	TLSVerify      *bool          `env:"CASTCTL_TLS_VERIFY"`
	CAFile         *string        `env:"CASTCTL_TLS_CA_FILE"`
	RetryInterval  *time.Duration `env:"CASTCTL_REQUEST_RETRY_INTERVAL"`
	MaxAttempts    *int           `env:"CASTCTL_REQUEST_MAX_ATTEMPTS"`
	TraceEnvelopes *bool          `env:"CASTCTL_TRACE_ENVELOPES"`
	MetricsAddr    *string        `env:"CASTCTL_METRICS_ADDR"`
}

// ApplyEnv overlays CASTCTL_* variables onto cfg and revalidates it.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("%w: environment: %v", ErrInvalidConfig, err)
	}
	if o.Host != nil {
		cfg.Device.Host = strings.TrimSpace(*o.Host)
	}
	if o.Port != nil {
		cfg.Device.Port = *o.Port
	}
	if o.TLSVerify != nil {
		cfg.Transport.TLS.Verify = *o.TLSVerify
	}
	if o.CAFile != nil {
		cfg.Transport.TLS.CAFile = strings.TrimSpace(*o.CAFile)
	}
	if o.RetryInterval != nil {
		cfg.Retry.Interval = *o.RetryInterval
	}
	if o.MaxAttempts != nil {
		cfg.Retry.MaxAttempts = *o.MaxAttempts
	}
	if o.TraceEnvelopes != nil {
		cfg.Log.TraceEnvelopes = *o.TraceEnvelopes
	}
	if o.MetricsAddr != nil {
		cfg.Metrics.Addr = strings.TrimSpace(*o.MetricsAddr)
	}
	return cfg.Validate()
}
