package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	EnvRemoteURL     = "CTX_REMOTE_URL"
	EnvRemoteAnonKey = "CTX_REMOTE_ANON_KEY"
	EnvSyncURL       = "CTX_SYNC_URL"
	EnvAPIKey        = "CTX_API_KEY"
	EnvDataDir       = "CTX_DATA_DIR"
)

// Client is the configuration of the local sync process. Every field except
// DataDir is required; there are no soft defaults for remote endpoints or
// credentials.
type Client struct {
	RemoteURL     string
	RemoteAnonKey string
	SyncURL       string
	APIKey        string
	DataDir       string
}

// MissingEnvError reports every required variable that was empty.
type MissingEnvError struct {
	Keys []string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("missing required environment: %s", strings.Join(e.Keys, ", "))
}

// LoadClient reads the client configuration from the environment.
func LoadClient() (Client, error) {
	cfg := Client{
		RemoteURL:     strings.TrimSpace(os.Getenv(EnvRemoteURL)),
		RemoteAnonKey: strings.TrimSpace(os.Getenv(EnvRemoteAnonKey)),
		SyncURL:       strings.TrimSpace(os.Getenv(EnvSyncURL)),
		APIKey:        strings.TrimSpace(os.Getenv(EnvAPIKey)),
		DataDir:       getenv(EnvDataDir, "./data"),
	}
	if err := cfg.Validate(); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// Validate returns a *MissingEnvError naming each empty required field.
func (c Client) Validate() error {
	var missing []string
	if c.RemoteURL == "" {
		missing = append(missing, EnvRemoteURL)
	}
	if c.RemoteAnonKey == "" {
		missing = append(missing, EnvRemoteAnonKey)
	}
	if c.SyncURL == "" {
		missing = append(missing, EnvSyncURL)
	}
	if c.APIKey == "" {
		missing = append(missing, EnvAPIKey)
	}
	if len(missing) > 0 {
		return &MissingEnvError{Keys: missing}
	}
	return nil
}
