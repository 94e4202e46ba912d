package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caiatech/govc"
	"github.com/rs/zerolog/log"
)

// GovcStore keeps artifacts in an embedded govc repository
type GovcStore struct {
	repo             *govc.Repository
	repoPath         string
	metricsCollector MetricsCollector
}

// NewGovcStore opens or creates a govc repository. A path of ":memory:" or ""
// gives a pure in-memory repository.
func NewGovcStore(repoPath string, metrics MetricsCollector) (*GovcStore, error) {
	var repo *govc.Repository
	var err error

	if repoPath == "" || repoPath == ":memory:" {
		repoPath = ":memory:"
		repo = govc.New()
	} else {
		repo, err = govc.Open(repoPath)
		if err != nil {
			repo, err = govc.Init(repoPath)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize govc repository: %w", err)
			}
			log.Info().Str("path", repoPath).Msg("Initialized govc artifact repository")
		}
	}

	commits, err := repo.Log(1)
	if err != nil || len(commits) == 0 {
		if err := repo.WriteFile("README.md", []byte("# HDRP artifact repository\n")); err == nil {
			if _, err := repo.Commit("Initial commit"); err != nil {
				log.Warn().Err(err).Msg("Failed to create initial govc commit")
			}
		}
	}

	return &GovcStore{
		repo:             repo,
		repoPath:         repoPath,
		metricsCollector: metrics,
	}, nil
}

func (g *GovcStore) PutArtifacts(ctx context.Context, files map[string][]byte, message string) (string, error) {
	start := time.Now()
	if len(files) == 0 {
		err := fmt.Errorf("no artifacts to store")
		recordMetric(g.metricsCollector, BackendGovc, "put", start, err)
		return "", err
	}

	cleaned := make(map[string][]byte, len(files))
	for name, data := range files {
		clean, err := cleanArtifactPath(name)
		if err != nil {
			recordMetric(g.metricsCollector, BackendGovc, "put", start, err)
			return "", err
		}
		cleaned[clean] = data
	}

	commit, err := g.repo.AtomicMultiFileUpdate(cleaned, message)
	if err != nil {
		err = fmt.Errorf("failed to store artifacts: %w", err)
		recordMetric(g.metricsCollector, BackendGovc, "put", start, err)
		return "", err
	}

	hash := commit.Hash()
	log.Debug().Str("commit", hash).Int("files", len(files)).Msg("Artifacts committed to govc")
	recordMetric(g.metricsCollector, BackendGovc, "put", start, nil)
	return hash, nil
}

func (g *GovcStore) GetArtifact(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	clean, err := cleanArtifactPath(name)
	if err != nil {
		recordMetric(g.metricsCollector, BackendGovc, "get", start, err)
		return nil, err
	}
	data, err := g.repo.ReadFile(clean)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrArtifactNotFound, clean, err)
	}
	recordMetric(g.metricsCollector, BackendGovc, "get", start, err)
	return data, err
}

func (g *GovcStore) ListArtifacts(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	all, err := g.repo.ListFiles()
	if err != nil {
		err = fmt.Errorf("failed to list govc files: %w", err)
		recordMetric(g.metricsCollector, BackendGovc, "list", start, err)
		return nil, err
	}

	var paths []string
	for _, p := range all {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	recordMetric(g.metricsCollector, BackendGovc, "list", start, nil)
	return paths, nil
}

func (g *GovcStore) Health(ctx context.Context) error {
	start := time.Now()
	_, err := g.repo.CurrentCommit()
	if err != nil {
		err = fmt.Errorf("repository unhealthy: %w", err)
	}
	recordMetric(g.metricsCollector, BackendGovc, "health", start, err)
	return err
}

// MemoryStats reports govc object storage usage
func (g *GovcStore) MemoryStats() map[string]interface{} {
	mem := g.repo.GetMemoryUsage()
	return map[string]interface{}{
		"repo_path":       g.repoPath,
		"memory_mode":     g.repoPath == ":memory:",
		"total_objects":   mem.TotalObjects,
		"total_bytes":     mem.TotalBytes,
		"compacted_bytes": mem.CompactedBytes,
		"fragment_ratio":  mem.FragmentRatio,
	}
}
