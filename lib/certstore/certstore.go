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

// Package certstore abstracts client certificate lookup so that the secret
// store client does not depend on any particular host certificate store.
package certstore

import (
	"crypto/tls"

	"github.com/gravitational/trace"
)

// Provider finds client certificates by thumbprint or subject name.
// Implementations are host specific; the rest of the codebase only sees
// this interface.
type Provider interface {
	// FindByThumbprint returns the certificate with the given SHA-1
	// thumbprint (lowercase hex), or nil when absent.
	FindByThumbprint(thumbprint, storeName, storeLocation string) (*tls.Certificate, error)
	// FindBySubjectName returns the certificate whose subject common name
	// matches name, or nil when absent. When several candidates match, the
	// one with the latest expiry wins.
	FindBySubjectName(name, storeName, storeLocation string) (*tls.Certificate, error)
}

// GetRequiredByThumbprint is like Provider.FindByThumbprint but fails hard
// when the certificate is absent.
func GetRequiredByThumbprint(p Provider, thumbprint, storeName, storeLocation string) (*tls.Certificate, error) {
	cert, err := p.FindByThumbprint(thumbprint, storeName, storeLocation)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if cert == nil {
		return nil, trace.NotFound("certificate with thumbprint %q not found in %v/%v", thumbprint, storeLocation, storeName)
	}
	return cert, nil
}

// GetRequiredBySubjectName is like Provider.FindBySubjectName but fails
// hard when no certificate matches.
func GetRequiredBySubjectName(p Provider, name, storeName, storeLocation string) (*tls.Certificate, error) {
	cert, err := p.FindBySubjectName(name, storeName, storeLocation)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if cert == nil {
		return nil, trace.NotFound("certificate with subject %q not found in %v/%v", name, storeLocation, storeName)
	}
	return cert, nil
}
