/*
 * Datastream
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package config loads and validates the host configuration file. The
// file uses YAML on disk; field names follow the JSON tags because the
// parser converts YAML to JSON before decoding.
package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	"github.com/gravitational/trace"

	"github.com/gravitational/datastream"
	"github.com/gravitational/datastream/lib/defaults"
	"github.com/gravitational/datastream/lib/secrets"
	logutils "github.com/gravitational/datastream/lib/utils/log"
)

var log = logutils.NewPackageLogger(datastream.ComponentKey, datastream.ComponentConfig)

// Config is the host configuration of the service.
type Config struct {
	// Environment tags this deployment, gates environment scoped
	// transformation steps.
	Environment string `json:"environment"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"logLevel"`
	// DatasetsDir holds the dataset definition files.
	DatasetsDir string `json:"datasetsDir"`
	// QueryDir holds SQL files of query kind datasets, DatasetsDir if
	// empty.
	QueryDir string `json:"queryDir"`
	// HotReload enables rescanning the datasets directory while running.
	HotReload bool `json:"hotReload"`
	// RescanIntervalSec is the hot reload polling period in seconds.
	RescanIntervalSec int `json:"rescanIntervalSec"`
	// ShutdownGracePeriodSec bounds the shutdown wait for in flight
	// executions.
	ShutdownGracePeriodSec int `json:"shutdownGracePeriodSec"`
	// Connections maps connection keys to connection string templates.
	// Templates may contain {vault:path} placeholders.
	Connections map[string]string `json:"connections"`
	// Secrets configures the secret store backend, optional. Without it
	// connection templates are used verbatim.
	Secrets SecretsConfig `json:"secrets"`
}

// SecretsConfig selects and configures the secret store backend.
type SecretsConfig struct {
	// Provider is "vault" or "apikey", empty disables secret resolution.
	Provider string `json:"provider"`
	// BaseURL is the base URL of the secret store.
	BaseURL string `json:"baseUrl"`
	// Token authenticates against the vault backend. Supports ${NAME}
	// environment interpolation.
	Token string `json:"token"`
	// APIKey authenticates against the apikey backend. Supports ${NAME}
	// environment interpolation.
	APIKey string `json:"apiKey"`
	// TimeoutSec bounds a single secret request.
	TimeoutSec int `json:"timeoutSec"`
	// CacheTTLSec is the secret cache TTL.
	CacheTTLSec int `json:"cacheTtlSec"`
	// MTLS configures client certificate authentication for the vault
	// backend.
	MTLS MTLSConfig `json:"mtls"`
}

// MTLSConfig locates the client certificate used for the secret store.
type MTLSConfig struct {
	// Enabled turns on client certificate authentication.
	Enabled bool `json:"enabled"`
	// CertDir is the root of the directory backed certificate store.
	CertDir string `json:"certDir"`
	// Thumbprint locates the certificate by SHA-1 thumbprint, preferred
	// over SubjectName when both are set.
	Thumbprint string `json:"thumbprint"`
	// SubjectName locates the certificate by subject common name.
	SubjectName string `json:"subjectName"`
	// StoreName and StoreLocation select the store subdirectory.
	StoreName     string `json:"storeName"`
	StoreLocation string `json:"storeLocation"`
}

// Load reads, interpolates and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, trace.Wrap(err, "parsing %v", path)
	}
	log.Debug("Loaded configuration.", "path", path, "datasets_dir", cfg.DatasetsDir)
	return cfg, nil
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, trace.BadParameter("parsing configuration: %v", err)
	}
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &cfg, nil
}

// CheckAndSetDefaults validates the config, applies environment
// interpolation to secret-bearing fields and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.DatasetsDir == "" {
		return trace.BadParameter("missing datasets directory")
	}
	if c.Environment == "" {
		c.Environment = "prod"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := c.ParseLogLevel(); err != nil {
		return trace.Wrap(err)
	}
	if c.QueryDir == "" {
		c.QueryDir = c.DatasetsDir
	}
	if c.RescanIntervalSec <= 0 {
		c.RescanIntervalSec = int(defaults.DatasetRescanInterval / time.Second)
	}
	if c.ShutdownGracePeriodSec <= 0 {
		c.ShutdownGracePeriodSec = int(defaults.ShutdownGracePeriod / time.Second)
	}

	c.Secrets.Token = expandEnv(c.Secrets.Token)
	c.Secrets.APIKey = expandEnv(c.Secrets.APIKey)
	for key, template := range c.Connections {
		c.Connections[key] = expandEnv(template)
	}

	if c.Secrets.Provider != "" {
		if c.Secrets.BaseURL == "" {
			return trace.BadParameter("secrets: missing base URL")
		}
		if c.Secrets.TimeoutSec <= 0 {
			c.Secrets.TimeoutSec = int(defaults.SecretRequestTimeout / time.Second)
		}
		if c.Secrets.CacheTTLSec <= 0 {
			c.Secrets.CacheTTLSec = int(defaults.SecretCacheTTL / time.Second)
		}
		if c.Secrets.MTLS.Enabled {
			if c.Secrets.MTLS.CertDir == "" {
				return trace.BadParameter("secrets: mtls requires a certificate directory")
			}
			if c.Secrets.MTLS.Thumbprint == "" && c.Secrets.MTLS.SubjectName == "" {
				return trace.BadParameter("secrets: mtls requires a thumbprint or subject name")
			}
		}
	}
	return nil
}

// ParseLogLevel converts the configured level to slog.
func (c *Config) ParseLogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, trace.BadParameter("unsupported log level %q", c.LogLevel)
}

// RescanInterval returns the hot reload period.
func (c *Config) RescanInterval() time.Duration {
	return time.Duration(c.RescanIntervalSec) * time.Second
}

// GracePeriod returns the shutdown grace period.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.ShutdownGracePeriodSec) * time.Second
}

// SecretsEnabled reports whether a secret store backend is configured.
func (c *Config) SecretsEnabled() bool {
	return c.Secrets.Provider != ""
}

// ClientConfig maps the secrets section to a client config. The caller
// supplies the certificate provider when mTLS is enabled.
func (c *Config) ClientConfig() secrets.ClientConfig {
	return secrets.ClientConfig{
		Provider:          c.Secrets.Provider,
		BaseURL:           c.Secrets.BaseURL,
		Timeout:           time.Duration(c.Secrets.TimeoutSec) * time.Second,
		Token:             c.Secrets.Token,
		APIKey:            c.Secrets.APIKey,
		MTLSEnabled:       c.Secrets.MTLS.Enabled,
		CertThumbprint:    c.Secrets.MTLS.Thumbprint,
		CertSubjectName:   c.Secrets.MTLS.SubjectName,
		CertStoreName:     c.Secrets.MTLS.StoreName,
		CertStoreLocation: c.Secrets.MTLS.StoreLocation,
	}
}

// expandEnv substitutes ${NAME} references. Unset variables are left
// as-is so a missing variable is visible during validation instead of
// silently becoming the empty string.
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return "${" + name + "}"
	})
}
