package workflows

// RunInput describes one refinery run. At least one of ChatFile,
// EpisodeFiles, URLs or Documents must be set.
type RunInput struct {
	RunID          string   `json:"run_id"`
	ChatFile       string   `json:"chat_file,omitempty"`
	EpisodeFiles   []string `json:"episode_files,omitempty"`
	URLs           []string `json:"urls,omitempty"`
	Documents      []string `json:"documents,omitempty"`
	SamplingConfig string   `json:"sampling_config,omitempty"`
	Publish        bool     `json:"publish"`
}

// HasSources reports whether the run has anything to refine
func (in RunInput) HasSources() bool {
	return in.ChatFile != "" || len(in.EpisodeFiles) > 0 || len(in.URLs) > 0 || len(in.Documents) > 0
}

// RunResult is what a completed run produced
type RunResult struct {
	RunID             string   `json:"run_id"`
	RefinedFile       string   `json:"refined_file"`
	ExportDir         string   `json:"export_dir"`
	EpisodesRefined   int      `json:"episodes_refined"`
	DuplicatesRemoved int      `json:"duplicates_removed"`
	DAPTRecords       int      `json:"dapt_records"`
	SFTRecords        int      `json:"sft_records"`
	EvalRecords       int      `json:"eval_records"`
	GatesPass         bool     `json:"gates_pass"`
	CommitHash        string   `json:"commit_hash,omitempty"`
	Artifacts         []string `json:"artifacts,omitempty"`
}

// Activity types
type ConvertInput struct {
	RunID    string `json:"run_id"`
	ChatFile string `json:"chat_file"`
}

type CollectInput struct {
	RunID     string   `json:"run_id"`
	URLs      []string `json:"urls"`
	Documents []string `json:"documents"`
}

// EpisodesResult names an episode file written by the convert or collect activity
type EpisodesResult struct {
	EpisodesFile string `json:"episodes_file"`
	Episodes     int    `json:"episodes"`
}

type RefineInput struct {
	RunID        string   `json:"run_id"`
	EpisodeFiles []string `json:"episode_files"`
}

type RefineResult struct {
	RefinedFile       string `json:"refined_file"`
	EpisodesInput     int    `json:"episodes_input"`
	EpisodesOutput    int    `json:"episodes_output"`
	DuplicatesRemoved int    `json:"duplicates_removed"`
}

type ExportInput struct {
	RunID          string `json:"run_id"`
	RefinedFile    string `json:"refined_file"`
	SamplingConfig string `json:"sampling_config,omitempty"`
}

type ExportResult struct {
	ExportDir   string `json:"export_dir"`
	DAPTRecords int    `json:"dapt_records"`
	SFTRecords  int    `json:"sft_records"`
	EvalRecords int    `json:"eval_records"`
	GatesPass   bool   `json:"gates_pass"`
}

type PublishInput struct {
	RunID string `json:"run_id"`
	Dir   string `json:"dir"`
}

type PublishResult struct {
	CommitHash string   `json:"commit_hash"`
	Artifacts  []string `json:"artifacts"`
}

// NotifyInput reports a run lifecycle change to the event bus
type NotifyInput struct {
	RunID string `json:"run_id"`
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// ScheduledRunInput defines a recurring collection. The cron schedule is set
// through the workflow start options.
type ScheduledRunInput struct {
	Name           string   `json:"name"`
	URLs           []string `json:"urls"`
	Documents      []string `json:"documents"`
	Schedule       string   `json:"schedule"`
	SamplingConfig string   `json:"sampling_config,omitempty"`
	Publish        bool     `json:"publish"`
}

// Activity names for registration
const (
	ConvertActivityName   = "ConvertActivity"
	CollectActivityName   = "CollectActivity"
	RefineActivityName    = "RefineActivity"
	ExportActivityName    = "ExportActivity"
	PublishActivityName   = "PublishActivity"
	NotifyRunActivityName = "NotifyRunActivity"
)

// Lifecycle types understood by NotifyRunActivity
const (
	NotifyStarted   = "run.started"
	NotifyCompleted = "run.completed"
	NotifyFailed    = "run.failed"
)

// Error types that retrying cannot fix
const (
	InvalidInputErrorType = "InvalidInputError"
	ConfigErrorType       = "ConfigError"
	ExtractionErrorType   = "ExtractionError"
)
