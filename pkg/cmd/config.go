package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/blzsearch/blz/pkg/engine"
	"github.com/blzsearch/blz/pkg/storage"
)

// newEngine resolves the data root (BLZ_ROOT, or the platform default)
// and wires an engine.Engine with the flags' defaults, mirroring the
// teacher's RunCommand: resolve config, then construct each collaborator
// in dependency order.
func newEngine(flags *cmdFlags, enableMetrics bool) (*engine.Engine, error) {
	root := flags.Root

	if root == "" {
		defaultRoot, err := storage.DefaultRoot()
		if err != nil {
			return nil, fmt.Errorf("resolve default data root: %w", err)
		}

		root = defaultRoot
	}

	indexPath := filepath.Join(root, ".blz-index")

	cfg := engine.Config{
		DefaultLimit:   flags.DefaultLimit,
		LanguageFilter: flags.LanguageFilter,
		SnippetLines:   flags.SnippetLines,
		ScorePrecision: flags.ScorePrecision,
		MaxArchives:    storage.DefaultMaxArchives,
		CacheEnabled:   true,
	}

	eng, err := engine.New(root, indexPath, cfg, enableMetrics)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	return eng, nil
}
