package config

import (
	"fmt"
	"os"
)

// Template is a castctl.toml with every key at its default.
const Template = `# castctl configuration. Every key is optional.

[device]
# host = "192.168.1.20"
port = 8009

[transport]
connect_timeout = "5s"
handshake_timeout = "5s"
write_timeout = "10s"

[tls]
# Cast devices present self-signed certificates; verification is opt-in.
verify = false
ca_file = ""
server_name = ""

[heartbeat]
interval = "5s"
timeout = "30s"

[request]
retry_interval = "5s"
# 0 retries until answered or closed.
max_attempts = 0

[log]
level = "info"
trace_envelopes = false

[metrics]
# addr = "127.0.0.1:9464"
`

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}
