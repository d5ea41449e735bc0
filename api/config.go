// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package api

import (
	"time"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"
)

// Config holds the websocket client's settings.
type Config struct {
	// Address is the storage service websocket URL, e.g.
	// "ws://10.0.0.1:5240/MAAS/ws".
	Address string

	// Insecure skips TLS certificate verification on wss addresses.
	Insecure bool

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration

	// RetryDelay and RetryAttempts govern redialling after a dropped
	// connection. Attempts counts dials, not commands: a command in
	// flight when the connection drops fails and is never replayed.
	RetryDelay    time.Duration
	RetryAttempts int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Address == "" {
		return errors.NotValidf("empty address")
	}
	if c.DialTimeout <= 0 {
		return errors.NotValidf("dial timeout %v", c.DialTimeout)
	}
	if c.RetryAttempts < 1 {
		return errors.NotValidf("retry attempts %d", c.RetryAttempts)
	}
	return nil
}

var configChecker = schema.FieldMap(
	schema.Fields{
		"address":        schema.String(),
		"insecure":       schema.Bool(),
		"dial-timeout":   schema.String(),
		"retry-delay":    schema.String(),
		"retry-attempts": schema.ForceInt(),
	},
	schema.Defaults{
		"insecure":       false,
		"dial-timeout":   "10s",
		"retry-delay":    "1s",
		"retry-attempts": 5,
	},
)

// ParseConfig reads a YAML client configuration.
func ParseConfig(data []byte) (Config, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, errors.Annotate(err, "parsing client config")
	}
	coerced, err := configChecker.Coerce(raw, nil)
	if err != nil {
		return Config{}, errors.NotValidf("client config: %v", err)
	}
	fields := coerced.(map[string]interface{})
	cfg := Config{
		Address:       fields["address"].(string),
		Insecure:      fields["insecure"].(bool),
		RetryAttempts: fields["retry-attempts"].(int),
	}
	if cfg.DialTimeout, err = time.ParseDuration(fields["dial-timeout"].(string)); err != nil {
		return Config{}, errors.NotValidf("dial-timeout: %v", err)
	}
	if cfg.RetryDelay, err = time.ParseDuration(fields["retry-delay"].(string)); err != nil {
		return Config{}, errors.NotValidf("retry-delay: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}
