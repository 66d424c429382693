package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const secretService = "lectern"

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "lectern", "secrets.json")
}

// fileSecrets reads and writes the 0600 secrets file, keyed by service and
// account.
type fileSecrets struct {
	path string
}

func (f fileSecrets) file() string {
	if f.path != "" {
		return f.path
	}
	return secretsFilePath()
}

func (f fileSecrets) Get(service, account string) (string, error) {
	data, err := os.ReadFile(f.file())
	if err != nil {
		return "", fmt.Errorf("secrets not available: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	svc, ok := secrets[service]
	if !ok {
		return "", fmt.Errorf("service %q not found", service)
	}
	val, ok := svc[account]
	if !ok {
		return "", fmt.Errorf("account %q not found in service %q", account, service)
	}
	return val, nil
}

func (f fileSecrets) Set(service, account, value string) error {
	p := f.file()

	var secrets map[string]map[string]string

	data, err := os.ReadFile(p)
	if err == nil {
		_ = json.Unmarshal(data, &secrets)
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o600)
}

// SetSecret stores a secret config key in the local secrets file.
func SetSecret(key, value string) error {
	for _, s := range specs {
		if s.key == key && s.secret {
			return fileSecrets{}.Set(secretService, key, value)
		}
	}
	return fmt.Errorf("unknown secret key: %q", key)
}

// APIToken returns the bearer token protecting the HTTP API. A configured
// token wins; otherwise one is generated on first use and persisted to the
// secrets file.
func APIToken(cfg Config) (string, error) {
	return apiToken(cfg, fileSecrets{})
}

func apiToken(cfg Config, fs fileSecrets) (string, error) {
	if cfg.Server.APIToken != "" {
		return cfg.Server.APIToken, nil
	}
	if tok, err := fs.Get(secretService, "server.api_token"); err == nil && tok != "" {
		return tok, nil
	}
	tok := uuid.New().String()
	if err := fs.Set(secretService, "server.api_token", tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
