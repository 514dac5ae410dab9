package units

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/spec"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/unit"
	"github.com/cory-johannsen/darksun-pf2e-sub001/pkg/pool"
)

// defaultDigestWorkers bounds the hash pool when neither the stage config
// nor the run context names a worker count.
const defaultDigestWorkers = 4

// Digest computes a SHA-256 digest for every path in the incoming payload
// and emits a path-to-hex map. Config keys: parallel, max_workers,
// batch_size. Stage config wins over the run context's global parallelism
// settings.
type Digest struct {
	parallel   *bool
	maxWorkers int
	batchSize  int
}

// NewDigest builds a Digest from its stage config.
func NewDigest(cfg spec.Config) *Digest {
	d := &Digest{
		maxWorkers: cfg.Int(spec.ConfigKeyMaxWorkers, 0),
		batchSize:  cfg.Int("batch_size", 1),
	}
	if cfg.Has(spec.ConfigKeyParallel) {
		p := cfg.Bool(spec.ConfigKeyParallel, false)
		d.parallel = &p
	}
	return d
}

// ValidateInput rejects payloads that are not path lists. A nil payload is
// reported but not fatal; Process treats it as an empty list.
func (d *Digest) ValidateInput(in unit.Input) error {
	if in.Payload == nil {
		return errors.New("empty payload, expected file paths")
	}
	if _, ok := in.Payload.([]string); !ok {
		return unit.Fatal(fmt.Errorf("payload is %T, expected []string", in.Payload))
	}
	return nil
}

// Process hashes every file, fanning out through the pool when parallelism
// is enabled. Per-file failures are contained to their task; the aggregate
// is folded into the run context only after the pool has drained.
func (d *Digest) Process(_ context.Context, in unit.Input, ec *unit.ExecutionContext) (unit.Output, error) {
	paths, _ := in.Payload.([]string)

	worker := func(path string) pool.Result {
		sum, err := hashFile(path)
		if err != nil {
			return pool.Result{Errors: []string{fmt.Sprintf("digest %s: %v", path, err)}}
		}
		return pool.Result{Processed: 1, Payload: [2]string{path, sum}}
	}

	var agg pool.Aggregate
	if d.runParallel(ec) {
		agg = pool.Run(paths, worker, d.workers(ec), d.batchSize)
	} else {
		agg = pool.RunSequential(paths, worker)
	}

	ec.AddItems(agg.Processed)
	for _, w := range agg.Warnings {
		ec.AddWarning(w)
	}
	for _, msg := range agg.Errors {
		ec.AddError(msg)
	}

	digests := make(map[string]string, len(agg.Results))
	for _, r := range agg.Results {
		if kv, ok := r.Payload.([2]string); ok {
			digests[kv[0]] = kv[1]
		}
	}

	meta := cloneMeta(in.Metadata)
	meta[MetaDigestedFiles] = len(digests)

	return unit.Output{Payload: digests, Metadata: meta}, nil
}

func (d *Digest) runParallel(ec *unit.ExecutionContext) bool {
	if d.parallel != nil {
		return *d.parallel
	}
	return ec.ParallelEnabled()
}

func (d *Digest) workers(ec *unit.ExecutionContext) int {
	if d.maxWorkers > 0 {
		return d.maxWorkers
	}
	return ec.MaxWorkers(defaultDigestWorkers)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
