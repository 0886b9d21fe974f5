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

package certstore

import (
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/gravitational/trace"
)

// DirProvider is a cross-platform Provider backed by a directory of PEM
// certificate/key pairs (<name>.crt + <name>.key). The storeName and
// storeLocation arguments select a subdirectory when present, mirroring
// the store/location hierarchy of OS certificate stores.
type DirProvider struct {
	// Dir is the root directory holding the certificate pairs.
	Dir string
}

// NewDirProvider creates a provider reading certificates from dir.
func NewDirProvider(dir string) (*DirProvider, error) {
	if dir == "" {
		return nil, trace.BadParameter("missing certificate directory")
	}
	return &DirProvider{Dir: dir}, nil
}

// FindByThumbprint implements Provider.
func (p *DirProvider) FindByThumbprint(thumbprint, storeName, storeLocation string) (*tls.Certificate, error) {
	want := strings.ToLower(strings.ReplaceAll(thumbprint, ":", ""))
	certs, err := p.load(storeName, storeLocation)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, cert := range certs {
		sum := sha1.Sum(cert.Leaf.Raw)
		if hex.EncodeToString(sum[:]) == want {
			return cert, nil
		}
	}
	return nil, nil
}

// FindBySubjectName implements Provider.
func (p *DirProvider) FindBySubjectName(name, storeName, storeLocation string) (*tls.Certificate, error) {
	certs, err := p.load(storeName, storeLocation)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var best *tls.Certificate
	for _, cert := range certs {
		if !strings.EqualFold(cert.Leaf.Subject.CommonName, name) {
			continue
		}
		if best == nil || cert.Leaf.NotAfter.After(best.Leaf.NotAfter) {
			best = cert
		}
	}
	return best, nil
}

func (p *DirProvider) load(storeName, storeLocation string) ([]*tls.Certificate, error) {
	dir := p.Dir
	if storeLocation != "" {
		dir = filepath.Join(dir, storeLocation)
	}
	if storeName != "" {
		dir = filepath.Join(dir, storeName)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, trace.ConvertSystemError(err)
	}
	var out []*tls.Certificate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".crt") {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), ".crt")
		cert, err := tls.LoadX509KeyPair(filepath.Join(dir, entry.Name()), filepath.Join(dir, base+".key"))
		if err != nil {
			return nil, trace.Wrap(err, "loading certificate pair %q", base)
		}
		if cert.Leaf == nil {
			leaf, err := x509.ParseCertificate(cert.Certificate[0])
			if err != nil {
				return nil, trace.Wrap(err)
			}
			cert.Leaf = leaf
		}
		out = append(out, &cert)
	}
	return out, nil
}
