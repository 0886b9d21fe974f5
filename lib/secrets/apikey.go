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

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"
)

// apiKeyClient talks to a secret store authenticated with a static API key:
// GET {base}/api/secrets/{path} with an X-API-Key header.
type apiKeyClient struct {
	client *resty.Client
}

type apiKeySecretResponse struct {
	Secret struct {
		Value string `json:"value"`
	} `json:"secret"`
}

func newAPIKeyClient(cfg ClientConfig) (*apiKeyClient, error) {
	if cfg.APIKey == "" {
		return nil, trace.BadParameter("missing API key for secret store %q", cfg.BaseURL)
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("X-API-Key", cfg.APIKey)
	return &apiKeyClient{client: client}, nil
}

// GetSecret implements Client.
func (c *apiKeyClient) GetSecret(ctx context.Context, path string) (string, error) {
	var out apiKeySecretResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/secrets/" + path)
	if err != nil {
		if isCertificateError(err) {
			log.ErrorContext(ctx, "TLS failure talking to the secret store", "error", err)
		}
		return "", trace.ConnectionProblem(err, "fetching secret %q", path)
	}
	if err := checkStatus(resp, path); err != nil {
		return "", trace.Wrap(err)
	}
	if out.Secret.Value == "" {
		return "", trace.NotFound("secret %q has no value", path)
	}
	return out.Secret.Value, nil
}

// ProviderName implements Client.
func (c *apiKeyClient) ProviderName() string { return ProviderAPIKey }
