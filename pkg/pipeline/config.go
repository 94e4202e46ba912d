package pipeline

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Caia-Tech/hdrp/internal/storage"
	"github.com/Caia-Tech/hdrp/pkg/logging"
)

// PipelineConfig holds complete pipeline configuration
type PipelineConfig struct {
	Logging  *logging.LogConfig   `json:"logging" toml:"logging"`
	Paths    *PathsConfig         `json:"paths" toml:"paths"`
	Refinery *RefineryConfig      `json:"refinery" toml:"refinery"`
	Export   *ExportConfig        `json:"export" toml:"export"`
	Storage  *storage.StoreConfig `json:"storage" toml:"storage"`
	Server   *ServerConfig        `json:"server" toml:"server"`
	FineTune *FineTuneConfig      `json:"finetune" toml:"finetune"`
}

// PathsConfig holds every data directory the pipeline reads or writes
type PathsConfig struct {
	DataRoot     string `json:"data_root" toml:"data_root"`
	RawDir       string `json:"raw_dir" toml:"raw_dir"`
	EpisodesDir  string `json:"episodes_dir" toml:"episodes_dir"`
	RefinedDir   string `json:"refined_dir" toml:"refined_dir"`
	ExportDir    string `json:"export_dir" toml:"export_dir"`
	ManifestsDir string `json:"manifests_dir" toml:"manifests_dir"`
	FineTuneDir  string `json:"finetune_dir" toml:"finetune_dir"`
}

// RefineryConfig controls normalization, scoring and dedup
type RefineryConfig struct {
	AcceptThreshold int    `json:"accept_threshold" toml:"accept_threshold"`
	ReviewThreshold int    `json:"review_threshold" toml:"review_threshold"`
	DominantDialect string `json:"dominant_dialect" toml:"dominant_dialect"`
}

// ExportConfig controls splitting, sampling and the Definition-of-Done gates
type ExportConfig struct {
	SamplingConfig    string  `json:"sampling_config" toml:"sampling_config"`
	Seed              int64   `json:"seed" toml:"seed"`
	HashMinLength     int     `json:"hash_min_length" toml:"hash_min_length"`
	SFTMinRecords     int     `json:"sft_min_records" toml:"sft_min_records"`
	SingleTurnTasks   bool    `json:"single_turn_tasks" toml:"single_turn_tasks"`
	MinDAPTTokens     int     `json:"min_dapt_tokens" toml:"min_dapt_tokens"`
	MinSFTTurns       int     `json:"min_sft_turns" toml:"min_sft_turns"`
	MinDialogueRatio  float64 `json:"min_dialogue_ratio" toml:"min_dialogue_ratio"`
	TokensPerDAPTItem int     `json:"tokens_per_dapt_record" toml:"tokens_per_dapt_record"`
}

// ServerConfig holds HTTP server and Temporal settings
type ServerConfig struct {
	Host         string        `json:"host" toml:"host"`
	Port         int           `json:"port" toml:"port"`
	TemporalHost string        `json:"temporal_host" toml:"temporal_host"`
	TaskQueue    string        `json:"task_queue" toml:"task_queue"`
	ReadTimeout  time.Duration `json:"read_timeout" toml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" toml:"write_timeout"`
	BodyLimit    int           `json:"body_limit" toml:"body_limit"`
}

// FineTuneConfig holds settings for the external training backends
type FineTuneConfig struct {
	OpenAIBaseURL    string        `json:"openai_base_url" toml:"openai_base_url"`
	OpenAIModel      string        `json:"openai_model" toml:"openai_model"`
	Suffix           string        `json:"suffix" toml:"suffix"`
	Epochs           int           `json:"epochs" toml:"epochs"`
	PollInterval     time.Duration `json:"poll_interval" toml:"poll_interval"`
	RequestsPerMin   int           `json:"requests_per_minute" toml:"requests_per_minute"`
	MLXPython        string        `json:"mlx_python" toml:"mlx_python"`
	MLXModel         string        `json:"mlx_model" toml:"mlx_model"`
	MLXBatchSize     int           `json:"mlx_batch_size" toml:"mlx_batch_size"`
	MLXLearningRate  float64       `json:"mlx_learning_rate" toml:"mlx_learning_rate"`
	MLXLoRARank      int           `json:"mlx_lora_rank" toml:"mlx_lora_rank"`
	MLXItersPerEpoch int           `json:"mlx_iters_per_epoch" toml:"mlx_iters_per_epoch"`
	MLXValidRatio    float64       `json:"mlx_valid_ratio" toml:"mlx_valid_ratio"`
}

// DefaultPipelineConfig returns a complete default configuration
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Logging: logging.DefaultLogConfig(),

		Paths: &PathsConfig{
			DataRoot:     "./data",
			RawDir:       "./data/raw",
			EpisodesDir:  "./data/episodes",
			RefinedDir:   "./data/refined",
			ExportDir:    "./data/exports",
			ManifestsDir: "./data/manifests",
			FineTuneDir:  "./data/finetune",
		},

		Refinery: &RefineryConfig{
			AcceptThreshold: 75,
			ReviewThreshold: 55,
			DominantDialect: "hassaniya",
		},

		Export: &ExportConfig{
			SamplingConfig:    "configs/sampling_config.json",
			Seed:              42,
			HashMinLength:     10,
			SFTMinRecords:     5000,
			MinDAPTTokens:     50000,
			MinSFTTurns:       5000,
			MinDialogueRatio:  0.60,
			TokensPerDAPTItem: 50,
		},

		Storage: storage.DefaultStoreConfig(),

		Server: &ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			TemporalHost: "localhost:7233",
			TaskQueue:    "hdrp-refinery",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			BodyLimit:    10 * 1024 * 1024,
		},

		FineTune: &FineTuneConfig{
			OpenAIBaseURL:    "https://api.openai.com/v1",
			OpenAIModel:      "gpt-4o-mini-2024-07-18",
			Suffix:           "hassaniya-v1",
			Epochs:           3,
			PollInterval:     30 * time.Second,
			RequestsPerMin:   20,
			MLXPython:        "python",
			MLXModel:         "mlx-community/Qwen2.5-7B-Instruct-4bit",
			MLXBatchSize:     4,
			MLXLearningRate:  1e-5,
			MLXLoRARank:      16,
			MLXItersPerEpoch: 1000,
			MLXValidRatio:    0.05,
		},
	}
}

// DevelopmentPipelineConfig returns development configuration
func DevelopmentPipelineConfig() *PipelineConfig {
	config := DefaultPipelineConfig()

	config.Logging.Level = "debug"
	config.Logging.Format = "pretty"

	config.Storage.Backend = storage.BackendGovc
	config.Storage.GovcPath = ":memory:"

	// Small local corpora never reach the production gates
	config.Export.SFTMinRecords = 0

	return config
}

// LoadPipelineConfig reads a TOML file over the defaults. An empty path
// returns the defaults.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	config := DefaultPipelineConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks value ranges that would otherwise surface deep inside a run
func (c *PipelineConfig) Validate() error {
	if c.Refinery.ReviewThreshold < 0 || c.Refinery.AcceptThreshold > 100 ||
		c.Refinery.ReviewThreshold > c.Refinery.AcceptThreshold {
		return fmt.Errorf("invalid dqs thresholds: accept=%d review=%d",
			c.Refinery.AcceptThreshold, c.Refinery.ReviewThreshold)
	}
	if c.Refinery.DominantDialect == "" {
		return fmt.Errorf("refinery.dominant_dialect cannot be empty")
	}
	if c.Export.HashMinLength < 0 {
		return fmt.Errorf("export.hash_min_length cannot be negative")
	}
	if c.Export.SFTMinRecords < 0 {
		return fmt.Errorf("export.sft_min_records cannot be negative")
	}
	if c.Export.MinDialogueRatio < 0 || c.Export.MinDialogueRatio > 1 {
		return fmt.Errorf("export.min_dialogue_ratio must be within [0,1]")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

// SetupDirectories creates every configured data directory
func (c *PipelineConfig) SetupDirectories() error {
	dirs := []string{
		c.Paths.DataRoot,
		c.Paths.RawDir,
		c.Paths.EpisodesDir,
		c.Paths.RefinedDir,
		c.Paths.ExportDir,
		c.Paths.ManifestsDir,
		c.Paths.FineTuneDir,
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
