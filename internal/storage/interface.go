package storage

import (
	"context"
	"errors"
	"time"
)

// ErrArtifactNotFound is returned when a path is not in the store
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore versions the files a refinery run produces
type ArtifactStore interface {
	// PutArtifacts writes all files in one commit and returns the commit hash
	PutArtifacts(ctx context.Context, files map[string][]byte, message string) (string, error)
	GetArtifact(ctx context.Context, path string) ([]byte, error)
	ListArtifacts(ctx context.Context, prefix string) ([]string, error)
	Health(ctx context.Context) error
}

// StorageMetrics provides telemetry for storage operations
type StorageMetrics struct {
	OperationType string
	Duration      int64 // nanoseconds
	Success       bool
	Backend       string
	Error         error
}

// MetricsCollector receives storage operation metrics
type MetricsCollector interface {
	RecordMetric(metric StorageMetrics)
}

// Backend names
const (
	BackendGit    = "git"
	BackendGovc   = "govc"
	BackendHybrid = "hybrid"
)

// StoreConfig selects and configures the artifact store
type StoreConfig struct {
	Backend          string        `json:"backend" toml:"backend"`
	GitRepoPath      string        `json:"git_repo_path" toml:"git_repo_path"`
	GovcPath         string        `json:"govc_path" toml:"govc_path"` // ":memory:" keeps the repo in memory
	EnableFallback   bool          `json:"enable_fallback" toml:"enable_fallback"`
	Mirror           bool          `json:"mirror" toml:"mirror"` // hybrid: also write to the secondary
	OperationTimeout time.Duration `json:"operation_timeout" toml:"operation_timeout"`
}

// DefaultStoreConfig returns a git-backed store under ./data
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Backend:          BackendGit,
		GitRepoPath:      "./data/artifacts",
		GovcPath:         ":memory:",
		EnableFallback:   true,
		Mirror:           true,
		OperationTimeout: 30 * time.Second,
	}
}

func recordMetric(collector MetricsCollector, backend, operation string, start time.Time, err error) {
	if collector == nil {
		return
	}
	collector.RecordMetric(StorageMetrics{
		OperationType: operation,
		Duration:      time.Since(start).Nanoseconds(),
		Success:       err == nil,
		Backend:       backend,
		Error:         err,
	})
}
