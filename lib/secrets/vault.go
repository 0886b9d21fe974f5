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

package secrets

import (
	"context"
	"crypto/tls"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"

	"github.com/gravitational/datastream/lib/certstore"
)

// vaultClient talks to a KV v2 style secret store:
// GET {base}/v1/secret/data/{path} with a bearer token, optionally over
// mutual TLS.
type vaultClient struct {
	client *resty.Client
}

type vaultSecretResponse struct {
	Data struct {
		Data struct {
			Value string `json:"value"`
		} `json:"data"`
	} `json:"data"`
}

func newVaultClient(cfg ClientConfig) (*vaultClient, error) {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	if cfg.MTLSEnabled {
		cert, err := clientCertificate(cfg)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		client.SetCertificates(*cert)
	}
	return &vaultClient{client: client}, nil
}

// clientCertificate fetches the mTLS client certificate at construction
// time, by thumbprint when configured and by subject name otherwise.
func clientCertificate(cfg ClientConfig) (*tls.Certificate, error) {
	if cfg.Certificates == nil {
		return nil, trace.BadParameter("mutual TLS is enabled but no certificate provider is configured")
	}
	if cfg.CertThumbprint != "" {
		cert, err := certstore.GetRequiredByThumbprint(cfg.Certificates, cfg.CertThumbprint, cfg.CertStoreName, cfg.CertStoreLocation)
		return cert, trace.Wrap(err)
	}
	if cfg.CertSubjectName != "" {
		cert, err := certstore.GetRequiredBySubjectName(cfg.Certificates, cfg.CertSubjectName, cfg.CertStoreName, cfg.CertStoreLocation)
		return cert, trace.Wrap(err)
	}
	return nil, trace.BadParameter("mutual TLS is enabled but neither a certificate thumbprint nor a subject name is configured")
}

// GetSecret implements Client.
func (c *vaultClient) GetSecret(ctx context.Context, path string) (string, error) {
	var out vaultSecretResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/secret/data/" + path)
	if err != nil {
		if isCertificateError(err) {
			log.ErrorContext(ctx, "TLS failure talking to the secret store, check the client certificate configuration", "error", err)
		}
		return "", trace.ConnectionProblem(err, "fetching secret %q", path)
	}
	if err := checkStatus(resp, path); err != nil {
		return "", trace.Wrap(err)
	}
	if out.Data.Data.Value == "" {
		return "", trace.NotFound("secret %q has no value", path)
	}
	return out.Data.Data.Value, nil
}

// ProviderName implements Client.
func (c *vaultClient) ProviderName() string { return ProviderVault }

func checkStatus(resp *resty.Response, path string) error {
	switch {
	case resp.IsSuccess():
		return nil
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return trace.AccessDenied("secret store denied access to %q: %v", path, resp.Status())
	case resp.StatusCode() == http.StatusNotFound:
		return trace.NotFound("secret %q not found", path)
	}
	return trace.ConnectionProblem(nil, "secret store returned %v for %q", resp.Status(), path)
}
