package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rs/zerolog/log"
)

// GitStore keeps artifacts as files in a git working tree
type GitStore struct {
	repo             *git.Repository
	repoPath         string
	metricsCollector MetricsCollector
}

// NewGitStore opens the repository at repoPath, initializing it when missing
func NewGitStore(repoPath string, metrics MetricsCollector) (*GitStore, error) {
	repo, err := git.PlainOpen(repoPath)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(repoPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create repository directory: %w", err)
		}
		repo, err = git.PlainInit(repoPath, false)
		if err == nil {
			log.Info().Str("path", repoPath).Msg("Initialized artifact repository")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}

	return &GitStore{
		repo:             repo,
		repoPath:         repoPath,
		metricsCollector: metrics,
	}, nil
}

func (g *GitStore) PutArtifacts(ctx context.Context, files map[string][]byte, message string) (string, error) {
	start := time.Now()
	hash, err := g.commitFiles(ctx, files, message)
	recordMetric(g.metricsCollector, BackendGit, "put", start, err)
	return hash, err
}

func (g *GitStore) GetArtifact(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	data, err := g.readFile(name)
	recordMetric(g.metricsCollector, BackendGit, "get", start, err)
	return data, err
}

func (g *GitStore) ListArtifacts(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	var paths []string
	err := filepath.WalkDir(g.repoPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(g.repoPath, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
		return nil
	})
	sort.Strings(paths)
	recordMetric(g.metricsCollector, BackendGit, "list", start, err)
	return paths, err
}

func (g *GitStore) Health(ctx context.Context) error {
	start := time.Now()
	_, err := g.repo.Worktree()
	recordMetric(g.metricsCollector, BackendGit, "health", start, err)
	return err
}

func (g *GitStore) commitFiles(ctx context.Context, files map[string][]byte, message string) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("no artifacts to store")
	}
	w, err := g.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	for name, data := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		clean, err := cleanArtifactPath(name)
		if err != nil {
			return "", err
		}
		full := filepath.Join(g.repoPath, filepath.FromSlash(clean))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return "", fmt.Errorf("failed to create directory for %s: %w", clean, err)
		}
		if err := os.WriteFile(full, data, 0644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", clean, err)
		}
		if _, err := w.Add(clean); err != nil {
			return "", fmt.Errorf("failed to add %s: %w", clean, err)
		}
	}

	commit, err := w.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "HDRP Refinery",
			Email: "refinery@caiatech.com",
			When:  time.Now(),
		},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		head, headErr := g.repo.Head()
		if headErr != nil {
			return "", fmt.Errorf("failed to resolve head: %w", headErr)
		}
		return head.Hash().String(), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}

	log.Debug().Str("commit", commit.String()).Int("files", len(files)).Msg("Artifacts committed to git")
	return commit.String(), nil
}

func (g *GitStore) readFile(name string) ([]byte, error) {
	clean, err := cleanArtifactPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(g.repoPath, filepath.FromSlash(clean)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, clean)
	}
	return data, err
}

// cleanArtifactPath rejects absolute paths and paths escaping the store root
func cleanArtifactPath(name string) (string, error) {
	clean := path.Clean(filepath.ToSlash(name))
	if clean == "." || strings.HasPrefix(clean, "/") || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid artifact path %q", name)
	}
	if clean == ".git" || strings.HasPrefix(clean, ".git/") {
		return "", fmt.Errorf("invalid artifact path %q", name)
	}
	return clean, nil
}
