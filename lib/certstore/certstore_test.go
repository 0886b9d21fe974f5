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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

// writeCertPair generates a self-signed certificate for the given common
// name under dir and returns its SHA-1 thumbprint.
func writeCertPair(t *testing.T, dir, name, commonName string, notAfter time.Time) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(dir, 0o700))
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".crt"), certPEM, 0o600))

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".key"), keyPEM, 0o600))

	sum := sha1.Sum(der)
	return hex.EncodeToString(sum[:])
}

func TestFindByThumbprint(t *testing.T) {
	dir := t.TempDir()
	thumb := writeCertPair(t, dir, "client", "datastream-client", time.Now().Add(24*time.Hour))
	writeCertPair(t, dir, "other", "other-client", time.Now().Add(24*time.Hour))

	p, err := NewDirProvider(dir)
	require.NoError(t, err)

	cert, err := p.FindByThumbprint(thumb, "", "")
	require.NoError(t, err)
	require.NotNil(t, cert)
	require.Equal(t, "datastream-client", cert.Leaf.Subject.CommonName)

	// Colon separated uppercase form is accepted as well.
	upper := ""
	for i := 0; i < len(thumb); i += 2 {
		if upper != "" {
			upper += ":"
		}
		upper += string(thumb[i]) + string(thumb[i+1])
	}
	cert, err = p.FindByThumbprint(upper, "", "")
	require.NoError(t, err)
	require.NotNil(t, cert)

	cert, err = p.FindByThumbprint("deadbeef", "", "")
	require.NoError(t, err)
	require.Nil(t, cert)
}

func TestFindBySubjectNameLatestExpiryWins(t *testing.T) {
	dir := t.TempDir()
	writeCertPair(t, dir, "old", "datastream-client", time.Now().Add(time.Hour))
	newThumb := writeCertPair(t, dir, "new", "datastream-client", time.Now().Add(48*time.Hour))

	p, err := NewDirProvider(dir)
	require.NoError(t, err)

	cert, err := p.FindBySubjectName("DATASTREAM-CLIENT", "", "")
	require.NoError(t, err)
	require.NotNil(t, cert)
	sum := sha1.Sum(cert.Leaf.Raw)
	require.Equal(t, newThumb, hex.EncodeToString(sum[:]))
}

func TestStoreHierarchy(t *testing.T) {
	root := t.TempDir()
	writeCertPair(t, filepath.Join(root, "LocalMachine", "My"), "client", "scoped-client", time.Now().Add(time.Hour))

	p, err := NewDirProvider(root)
	require.NoError(t, err)

	cert, err := p.FindBySubjectName("scoped-client", "My", "LocalMachine")
	require.NoError(t, err)
	require.NotNil(t, cert)

	// Root scope does not see certificates nested under a store.
	cert, err = p.FindBySubjectName("scoped-client", "", "")
	require.NoError(t, err)
	require.Nil(t, cert)

	// A missing store is empty, not an error.
	cert, err = p.FindBySubjectName("scoped-client", "Nope", "LocalMachine")
	require.NoError(t, err)
	require.Nil(t, cert)
}

func TestGetRequired(t *testing.T) {
	p, err := NewDirProvider(t.TempDir())
	require.NoError(t, err)

	_, err = GetRequiredByThumbprint(p, "deadbeef", "My", "LocalMachine")
	require.True(t, trace.IsNotFound(err))

	_, err = GetRequiredBySubjectName(p, "nobody", "My", "LocalMachine")
	require.True(t, trace.IsNotFound(err))
}

func TestNewDirProviderValidation(t *testing.T) {
	_, err := NewDirProvider("")
	require.True(t, trace.IsBadParameter(err))
}
