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
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/gravitational/trace"
)

// FSConfig configures the filesystem provider.
type FSConfig struct {
	// BasePath is the root every destination path is resolved under.
	BasePath string `mapstructure:"basePath"`
}

// fsProvider writes to a local or mounted filesystem. Writes are atomic: a
// temp file next to the destination is renamed over the final name, so a
// concurrent reader sees either the old content or the new one, never a
// partial write.
type fsProvider struct {
	cfg FSConfig
}

// NewFSProvider creates the filesystem provider.
func NewFSProvider(cfg FSConfig) (Provider, error) {
	if cfg.BasePath == "" {
		return nil, trace.BadParameter("missing fs destination base path")
	}
	return &fsProvider{cfg: cfg}, nil
}

// Upload implements Provider.
func (p *fsProvider) Upload(ctx context.Context, destinationPath, fileName string, data []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, trace.Wrap(err)
	}

	fullPath := filepath.Join(p.cfg.BasePath, filepath.FromSlash(destinationPath), fileName)
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, trace.ConvertSystemError(err)
	}

	t, err := renameio.TempFile("", absPath)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	// Removes the temp file when the replace below did not happen.
	defer t.Cleanup()

	if _, err := t.Write(data); err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return nil, trace.ConvertSystemError(err)
	}

	log.DebugContext(ctx, "Wrote artifact.", "path", absPath, "bytes", len(data))
	return &Result{
		Success:      true,
		Path:         absPath,
		BytesWritten: len(data),
	}, nil
}

// ProviderName implements Provider.
func (p *fsProvider) ProviderName() string { return ProviderFS }
