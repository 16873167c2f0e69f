package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "service", "botctl":
		return serviceTemplate, nil
	case "runs":
		return runsTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serviceTemplate = `listen_addr = "127.0.0.1:12345"
admin_listen_addr = "127.0.0.1:9105"
# bearer token for POST /session/close; BALATROBOT_ADMIN_TOKEN overrides
admin_token = ""

inactivity_timeout = "7s"
ping_response_timeout = "3s"
max_ping_retries = 3
queue_size = 32
write_timeout = "10s"

security_mode = "development"
session_tls_enabled = false
session_tls_mutual = false
session_tls_cert_file = ""
session_tls_key_file = ""
session_tls_ca_file = ""

[run]
auto_start = false
deck = "red"
stake = "white"
seed = ""
profiles_file = ""
profile = ""
`

const runsTemplate = `default = "red-white"

[[profiles]]
name = "red-white"
deck = "red"
stake = "white"

[[profiles]]
name = "plasma-gold-seeded"
deck = "plasma"
stake = "gold"
seed = "ABCD1234"
`
