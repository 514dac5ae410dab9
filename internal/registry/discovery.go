package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"
)

// Unit plugins are shared objects built with -buildmode=plugin. A candidate
// file is named <anything>_unit.so and exports a Units symbol:
//
//	var Units = map[string]registry.Factory{
//	    "my_unit": newMyUnit,
//	}
const (
	PluginSuffix = "_unit.so"
	PluginSymbol = "Units"
)

// Discover scans dir for unit plugins and registers every factory they
// export. Each directory is scanned at most once per registry; repeat calls
// are no-ops. A candidate that fails to load or exports the wrong symbol
// shape is logged and skipped so one broken plugin cannot block the rest.
// Only an unreadable directory is an error.
func (r *Registry) Discover(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve discovery dir %s: %w", dir, err)
	}

	r.mu.Lock()
	if _, done := r.scanned[abs]; done {
		r.mu.Unlock()
		return nil
	}
	r.scanned[abs] = struct{}{}
	r.mu.Unlock()

	entries, err := os.ReadDir(abs)
	if err != nil {
		return fmt.Errorf("read discovery dir %s: %w", abs, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), PluginSuffix) {
			continue
		}
		path := filepath.Join(abs, entry.Name())
		n, err := r.loadPlugin(path)
		if err != nil {
			r.logger.Warn("skipping unit plugin", "path", path, "error", err)
			continue
		}
		r.logger.Info("discovered unit plugin", "path", path, "units", n)
	}
	return nil
}

func (r *Registry) loadPlugin(path string) (int, error) {
	plg, err := plugin.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open: %w", err)
	}
	sym, err := plg.Lookup(PluginSymbol)
	if err != nil {
		return 0, fmt.Errorf("lookup %s: %w", PluginSymbol, err)
	}
	units, ok := sym.(*map[string]Factory)
	if !ok {
		return 0, fmt.Errorf("symbol %s has type %T, want *map[string]registry.Factory", PluginSymbol, sym)
	}
	for name, f := range *units {
		if name == "" || f == nil {
			return 0, fmt.Errorf("symbol %s contains an empty entry", PluginSymbol)
		}
		r.Register(name, f)
	}
	return len(*units), nil
}
