package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter config in the given format.
func Template(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "toml":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config format: %s", format)
	}
}

func WriteTemplate(path, format string, overwrite bool) error {
	template, err := Template(format)
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

const tomlTemplate = `rpc_host = "https://eos.greymass.com"
bp_account = "bpaccount111"
bp_permission_name = "active"
bp_approve_permission = "active"
proposer_account = "proposer1111"
proposer_permission_name = "active"
# proposer_private_key is better supplied as PROPOSER_PRIVATE_KEY
slack_webhook_url = ""
explorer_url = "https://bloks.io"
admin_addr = "127.0.0.1:9464"
interval = "60s"
call_timeout = "30s"
`

const yamlTemplate = `rpc_host: https://eos.greymass.com
bp_account: bpaccount111
bp_permission_name: active
bp_approve_permission: active
proposer_account: proposer1111
proposer_permission_name: active
# proposer_private_key is better supplied as PROPOSER_PRIVATE_KEY
slack_webhook_url: ""
explorer_url: https://bloks.io
admin_addr: 127.0.0.1:9464
interval: 60s
call_timeout: 30s
`
