package config

import "github.com/danmuck/castctl/internal/client"

// Client maps the file settings onto a client configuration.
func (c Config) Client() client.Config {
	cfg := client.DefaultConfig()
	cfg.Port = c.Device.Port
	cfg.Transport = c.Transport
	cfg.Heartbeat = c.Heartbeat
	cfg.Retry = c.Retry
	cfg.TraceEnvelopes = c.Log.TraceEnvelopes
	return cfg
}
