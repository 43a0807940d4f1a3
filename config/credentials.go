package config

import (
	"fmt"
	"os"

	"github.com/onescan/dentalsync/connector"
	"github.com/onescan/dentalsync/order"
)

// EnvCredentials resolves portal accounts from environment variables named
// by the configuration. Lookups happen at login time, so rotating an account
// only requires restarting the process, not editing any file.
type EnvCredentials struct {
	cfg *Config
}

// Credentials returns the env-backed credential source for this config.
func (c *Config) Credentials() *EnvCredentials {
	return &EnvCredentials{cfg: c}
}

var _ connector.CredentialSource = (*EnvCredentials)(nil)

// Lookup reads one portal's account from the environment.
func (e *EnvCredentials) Lookup(p order.Platform) (connector.Credentials, error) {
	pc, ok := e.cfg.Platforms[string(p)]
	if !ok {
		return connector.Credentials{}, fmt.Errorf("config: platform %q not configured", p)
	}
	user := os.Getenv(pc.UsernameEnv)
	pass := os.Getenv(pc.PasswordEnv)
	if user == "" || pass == "" {
		return connector.Credentials{}, fmt.Errorf("config: credentials for %s missing, set %s and %s",
			p, pc.UsernameEnv, pc.PasswordEnv)
	}
	return connector.Credentials{Username: user, Password: pass}, nil
}
