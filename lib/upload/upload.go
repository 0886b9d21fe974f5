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

// Package upload delivers packed artifacts and control records to their
// destination.
package upload

import (
	"context"
	"strings"

	"github.com/gravitational/trace"
	"github.com/mitchellh/mapstructure"

	"github.com/gravitational/datastream"
	logutils "github.com/gravitational/datastream/lib/utils/log"
)

var log = logutils.NewPackageLogger(datastream.ComponentKey, datastream.ComponentUpload)

// Provider tags.
const (
	// ProviderFS is the local or mounted filesystem provider.
	ProviderFS = "fs"
	// ProviderBlob is the object store provider.
	ProviderBlob = "blob"
)

// Result describes a completed upload.
type Result struct {
	// Success is true when the data was fully delivered.
	Success bool
	// Path is the absolute path or canonical URI of the uploaded object.
	Path string
	// BytesWritten is the size of the delivered payload.
	BytesWritten int
}

// Provider delivers bytes to a destination. One provider instance serves
// all uploads of a single execution.
type Provider interface {
	// Upload writes data as fileName under destinationPath.
	Upload(ctx context.Context, destinationPath, fileName string, data []byte) (*Result, error)
	// ProviderName returns the provider tag.
	ProviderName() string
}

// NewProvider creates the provider for the given tag with its provider
// specific configuration.
func NewProvider(ctx context.Context, tag string, config map[string]any) (Provider, error) {
	switch strings.ToLower(tag) {
	case ProviderFS:
		var cfg FSConfig
		if err := mapstructure.Decode(config, &cfg); err != nil {
			return nil, trace.BadParameter("invalid fs destination config: %v", err)
		}
		return NewFSProvider(cfg)
	case ProviderBlob:
		var cfg BlobConfig
		if err := mapstructure.Decode(config, &cfg); err != nil {
			return nil, trace.BadParameter("invalid blob destination config: %v", err)
		}
		return NewBlobProvider(ctx, cfg)
	}
	return nil, trace.BadParameter("unsupported upload provider %q", tag)
}
