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

package upload

import (
	"context"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/gravitational/trace"
)

// BlobConfig configures the object store provider.
type BlobConfig struct {
	// ConnectionString authenticates with a storage account connection
	// string when set.
	ConnectionString string `mapstructure:"connectionString"`
	// ServiceURL is the blob service endpoint, used with the ambient
	// credential when ConnectionString is empty.
	ServiceURL string `mapstructure:"serviceUrl"`
	// Container is the container receiving uploads, created when absent.
	Container string `mapstructure:"container"`
}

// blobClient is the subset of the azblob client the provider uses,
// extracted so tests can fake the object store.
type blobClient interface {
	CreateContainer(ctx context.Context, containerName string, o *azblob.CreateContainerOptions) (azblob.CreateContainerResponse, error)
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
	URL() string
}

type blobProvider struct {
	cfg    BlobConfig
	client blobClient
}

// NewBlobProvider creates the object store provider and ensures the
// configured container exists.
func NewBlobProvider(ctx context.Context, cfg BlobConfig) (Provider, error) {
	if cfg.Container == "" {
		return nil, trace.BadParameter("missing blob destination container")
	}
	var client *azblob.Client
	var err error
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.ServiceURL != "":
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		client, err = azblob.NewClient(cfg.ServiceURL, cred, nil)
	default:
		return nil, trace.BadParameter("blob destination requires a connection string or a service URL")
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return newBlobProvider(ctx, cfg, client)
}

func newBlobProvider(ctx context.Context, cfg BlobConfig, client blobClient) (Provider, error) {
	p := &blobProvider{cfg: cfg, client: client}
	if err := p.ensureContainer(ctx); err != nil {
		return nil, trace.Wrap(err)
	}
	return p, nil
}

func (p *blobProvider) ensureContainer(ctx context.Context) error {
	_, err := p.client.CreateContainer(ctx, p.cfg.Container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return trace.Wrap(err, "ensuring container %q", p.cfg.Container)
	}
	return nil
}

// Upload implements Provider. Existing blobs are overwritten.
func (p *blobProvider) Upload(ctx context.Context, destinationPath, fileName string, data []byte) (*Result, error) {
	blobName := path.Join(strings.ReplaceAll(destinationPath, "\\", "/"), fileName)
	if _, err := p.client.UploadBuffer(ctx, p.cfg.Container, blobName, data, nil); err != nil {
		return nil, trace.Wrap(err, "uploading blob %q", blobName)
	}

	uri := strings.TrimSuffix(p.client.URL(), "/") + "/" + p.cfg.Container + "/" + blobName
	log.DebugContext(ctx, "Uploaded blob.", "uri", uri, "bytes", len(data))
	return &Result{
		Success:      true,
		Path:         uri,
		BytesWritten: len(data),
	}, nil
}

// ProviderName implements Provider.
func (p *blobProvider) ProviderName() string { return ProviderBlob }
