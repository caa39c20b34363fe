package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfigTemplate is the commented configuration file written by
// InitConfig. The %s placeholder receives a freshly generated JWT secret.
const sampleConfigTemplate = `# fedid Configuration File
#
# Every option can be overridden with an environment variable:
#   FEDID_<SECTION>_<KEY>, e.g. FEDID_LOGGING_LEVEL=DEBUG
#
# This file may contain secrets and is written with 0600 permissions.

logging:
  # DEBUG, INFO, WARN or ERROR
  level: INFO
  # text or json
  format: text
  # stdout, stderr or a file path
  output: stdout

# Maximum time to wait for graceful shutdown.
shutdown_timeout: 30s

metrics:
  enabled: false
  port: 9090

api:
  port: 8080
  jwt:
    # Generated at init time for development use. For production, unset this
    # and export FEDID_API_SECRET instead.
    secret: %s
    access_token_duration: 15m
    refresh_token_duration: 168h

# Identity domains, tried in priority order (lower first, declaration order
# breaks ties). The first domain is the primary domain.
domains:
  - name: PRIMARY
    priority: 10
    identity:
      - id: IC1
        # memory or sql
        type: memory
    credential:
      - id: CC1
        # memory or vault
        type: memory
    mappings:
      - claim_uri: http://wso2.org/claims/username
        connector_id: IC1
        attribute_name: attr_username
        unique: true
      - claim_uri: http://wso2.org/claims/emailaddress
        connector_id: IC1
        attribute_name: attr_email
        unique: true
    resolver:
      # memory or sql
      type: memory

# Claim profiles enforced at the API boundary. Optional.
#
# profiles:
#   - claim_uri: http://wso2.org/claims/emailaddress
#     regex: "^[^@]+@[^@]+$"
#     required: true
`

// InitConfig creates a sample configuration file at the default location.
//
// Returns the path of the created file. Fails if a config file already
// exists, unless force is true.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath creates a sample configuration file at the given path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	secret, err := generateJWTSecret()
	if err != nil {
		return err
	}

	content := fmt.Sprintf(sampleConfigTemplate, secret)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateJWTSecret returns a 64-character hex string (32 bytes of entropy).
func generateJWTSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
