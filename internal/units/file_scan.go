package units

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/spec"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/unit"
)

// FileScan lists the files under a root directory that match a glob pattern.
// Config keys: root (default "."), pattern (default "*").
type FileScan struct {
	root    string
	pattern string
}

// NewFileScan builds a FileScan from its stage config.
func NewFileScan(cfg spec.Config) *FileScan {
	return &FileScan{
		root:    cfg.String("root", "."),
		pattern: cfg.String("pattern", "*"),
	}
}

// Process emits the sorted matching paths as the payload. A scan that
// matches nothing records a warning, not an error.
func (f *FileScan) Process(_ context.Context, in unit.Input, ec *unit.ExecutionContext) (unit.Output, error) {
	matches, err := filepath.Glob(filepath.Join(f.root, f.pattern))
	if err != nil {
		return unit.Output{}, fmt.Errorf("scan %s: %w", f.root, err)
	}
	sort.Strings(matches)

	if len(matches) == 0 {
		ec.Warnf("no files under %s match %q", f.root, f.pattern)
	}

	meta := cloneMeta(in.Metadata)
	meta[MetaScannedRoot] = f.root
	meta[MetaScannedFiles] = len(matches)

	return unit.Output{Payload: matches, Metadata: meta}, nil
}
