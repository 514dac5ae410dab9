// Package units provides the built-in generic units: a file scanner, a
// SHA-256 digest processor, and a JSON archive postprocessor. Importing the
// package registers them with the default registry under the names
// "file_scan", "digest" and "json_archive".
package units

import (
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/registry"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/spec"
)

// Metadata keys written by the built-in units.
const (
	MetaScannedRoot   = "scanned_root"
	MetaScannedFiles  = "scanned_files"
	MetaDigestedFiles = "digested_files"
	MetaArchivePath   = "archive_path"
)

func init() {
	registry.Register("file_scan", func(_ string, cfg spec.Config) (any, error) {
		return NewFileScan(cfg), nil
	})
	registry.Register("digest", func(_ string, cfg spec.Config) (any, error) {
		return NewDigest(cfg), nil
	})
	registry.Register("json_archive", func(_ string, cfg spec.Config) (any, error) {
		return NewJSONArchive(cfg), nil
	})
}

// cloneMeta copies m plus room for the caller's additions, so units always
// pass the full accumulated metadata forward.
func cloneMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
