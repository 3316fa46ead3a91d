// Package zip bundles job artifacts into a single archive.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
)

// Asset is one file to include in an archive.
type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// Archive streams the assets as a zip archive to w.
func Archive(w io.Writer, assets []Asset) error {
	zw := zip.NewWriter(w)
	for _, asset := range assets {
		entry, err := zw.Create(asset.Filename)
		if err != nil {
			return fmt.Errorf("create entry %s: %w", asset.Filename, err)
		}
		if _, err := entry.Write(asset.Data); err != nil {
			return fmt.Errorf("write entry %s: %w", asset.Filename, err)
		}
	}
	return zw.Close()
}
