package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// NewStore builds the artifact store selected by config
func NewStore(config *StoreConfig, metrics MetricsCollector) (ArtifactStore, error) {
	if config == nil {
		config = DefaultStoreConfig()
	}

	switch config.Backend {
	case BackendGit, "":
		return NewGitStore(config.GitRepoPath, metrics)
	case BackendGovc:
		return NewGovcStore(config.GovcPath, metrics)
	case BackendHybrid:
		govcStore, err := NewGovcStore(config.GovcPath, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize govc store: %w", err)
		}
		gitStore, err := NewGitStore(config.GitRepoPath, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git store: %w", err)
		}
		return NewHybridStore(govcStore, gitStore, BackendGovc, config, metrics), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", config.Backend)
	}
}

// RunPrefix is the store directory of one run's artifacts
func RunPrefix(runID string) string {
	return path.Join("runs", runID) + "/"
}

// PublishRun stores every regular file of dir under runs/<runID>/ in a single
// commit and returns the commit hash together with the stored paths.
func PublishRun(ctx context.Context, store ArtifactStore, runID, dir string) (string, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read artifact directory: %w", err)
	}

	files := make(map[string][]byte)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return "", nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		files[RunPrefix(runID)+entry.Name()] = data
	}
	if len(files) == 0 {
		return "", nil, fmt.Errorf("no artifacts found in %s", dir)
	}

	hash, err := store.PutArtifacts(ctx, files, fmt.Sprintf("Publish run %s", runID))
	if err != nil {
		return "", nil, err
	}

	stored := make([]string, 0, len(files))
	for p := range files {
		stored = append(stored, p)
	}
	sort.Strings(stored)
	return hash, stored, nil
}
