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

// Package secrets implements the remote secret store clients and the
// connection template resolver that rewrites {vault:path} placeholders.
package secrets

import (
	"context"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/datastream"
	"github.com/gravitational/datastream/lib/certstore"
	"github.com/gravitational/datastream/lib/defaults"
	logutils "github.com/gravitational/datastream/lib/utils/log"
)

var log = logutils.NewPackageLogger(datastream.ComponentKey, datastream.ComponentSecrets)

const (
	// ProviderVault selects the bearer token backend.
	ProviderVault = "vault"
	// ProviderAPIKey selects the API key backend.
	ProviderAPIKey = "apikey"
)

// Client fetches secret values from a remote secret store.
type Client interface {
	// GetSecret returns the secret value stored under path.
	GetSecret(ctx context.Context, path string) (string, error)
	// ProviderName returns the backend tag.
	ProviderName() string
}

// ClientConfig selects and configures a secret store backend.
type ClientConfig struct {
	// Provider selects the backend, one of ProviderVault or ProviderAPIKey.
	Provider string
	// BaseURL is the base URL of the secret store.
	BaseURL string
	// Timeout bounds a single request, defaults.SecretRequestTimeout if
	// zero.
	Timeout time.Duration
	// Token is the bearer token sent to the vault backend.
	Token string
	// APIKey is the key sent to the apikey backend.
	APIKey string
	// MTLSEnabled requests a client certificate for the vault backend.
	MTLSEnabled bool
	// CertThumbprint locates the client certificate by thumbprint.
	CertThumbprint string
	// CertSubjectName locates the client certificate by subject, used when
	// CertThumbprint is empty.
	CertSubjectName string
	// CertStoreName and CertStoreLocation select the certificate store.
	CertStoreName     string
	CertStoreLocation string
	// Certificates provides client certificates when MTLSEnabled is set.
	Certificates certstore.Provider
}

// NewClient creates the secret store client selected by the config. The
// underlying HTTP client is constructed once and reused for every request.
func NewClient(cfg ClientConfig) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, trace.BadParameter("missing secret store base URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.SecretRequestTimeout
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderVault:
		return newVaultClient(cfg)
	case ProviderAPIKey:
		return newAPIKeyClient(cfg)
	case "":
		return nil, trace.BadParameter("missing secret store provider")
	}
	return nil, trace.BadParameter("unsupported secret store provider %q", cfg.Provider)
}

// isCertificateError reports whether the error message points at a TLS or
// certificate problem. Those are logged distinctly to aid operators.
func isCertificateError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tls") ||
		strings.Contains(msg, "x509") ||
		strings.Contains(msg, "certificate")
}
