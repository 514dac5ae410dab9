package units

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/spec"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/unit"
)

// JSONArchive writes the stage envelope to a JSON artifact on disk. Config
// keys: dir (default "archive"), name (artifact basename, default
// "envelope").
type JSONArchive struct {
	dir  string
	name string
}

// NewJSONArchive builds a JSONArchive from its stage config.
func NewJSONArchive(cfg spec.Config) *JSONArchive {
	return &JSONArchive{
		dir:  cfg.String("dir", "archive"),
		name: cfg.String("name", "envelope"),
	}
}

// Postprocess writes the envelope as <dir>/<name>-<run id>.json and records
// the artifact path in the outgoing metadata.
func (a *JSONArchive) Postprocess(_ context.Context, out unit.Output, ec *unit.ExecutionContext) (unit.Output, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return unit.Output{}, fmt.Errorf("create archive dir %s: %w", a.dir, err)
	}

	doc := map[string]any{
		"pipeline": ec.Pipeline(),
		"run_id":   ec.RunID(),
		"payload":  out.Payload,
		"metadata": out.Metadata,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return unit.Output{}, fmt.Errorf("encode archive: %w", err)
	}

	name := filepath.Join(a.dir, fmt.Sprintf("%s-%s.json", a.name, ec.RunID()))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return unit.Output{}, fmt.Errorf("write archive %s: %w", name, err)
	}

	meta := cloneMeta(out.Metadata)
	meta[MetaArchivePath] = name

	return unit.Output{Payload: out.Payload, Metadata: meta}, nil
}
