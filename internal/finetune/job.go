package finetune

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Caia-Tech/hdrp/internal/jsonl"
	"github.com/Caia-Tech/hdrp/pkg/episode"
	config "github.com/Caia-Tech/hdrp/pkg/pipeline"
)

// JobFile is the name of the job record written next to the uploads
const JobFile = "finetune_job.json"

// JobRecord is the local bookkeeping for a launched job
type JobRecord struct {
	JobID           string          `json:"job_id"`
	Model           string          `json:"model"`
	Status          string          `json:"status"`
	TrainingFile    string          `json:"training_file"`
	ValidationFile  string          `json:"validation_file,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`
	FineTunedModel  string          `json:"fine_tuned_model,omitempty"`
	TrainedTokens   int64           `json:"trained_tokens,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// NewJobRecord captures a freshly created job
func NewJobRecord(job *Job) *JobRecord {
	rec := &JobRecord{
		JobID:           job.ID,
		Model:           job.Model,
		TrainingFile:    job.TrainingFile,
		ValidationFile:  job.ValidationFile,
		CreatedAt:       time.Unix(job.CreatedAt, 0).UTC(),
		Hyperparameters: job.Hyperparameters,
	}
	rec.Update(job)
	return rec
}

// Update copies the fields that change while a job runs
func (r *JobRecord) Update(job *Job) {
	r.Status = job.Status
	if job.FineTunedModel != "" {
		r.FineTunedModel = job.FineTunedModel
	}
	if job.TrainedTokens > 0 {
		r.TrainedTokens = job.TrainedTokens
	}
	if job.Error != nil && job.Error.Message != "" {
		r.Error = job.Error.Message
	}
}

// SaveJobRecord writes the record as indented JSON
func SaveJobRecord(path string, rec *JobRecord) error {
	return jsonl.WriteJSON(path, rec)
}

// LoadJobRecord reads a record written by SaveJobRecord
func LoadJobRecord(path string) (*JobRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job record: %w", err)
	}
	var rec JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse job record %s: %w", path, err)
	}
	return &rec, nil
}

// PrepareFile validates a chat export, drops invalid records and writes the
// messages-only form the API accepts. It returns the report on the input
// and the number of records written.
func PrepareFile(in, out string) (*ValidationReport, int, error) {
	records, parse, err := jsonl.ReadFile[episode.ChatRecord](in)
	if err != nil {
		return nil, 0, err
	}
	report := ValidateChat(records)
	report.Total += parse.Skipped
	report.Invalid += parse.Skipped
	for _, le := range parse.Errors {
		if len(report.Errors) >= maxErrorDetails {
			break
		}
		report.Errors = append(report.Errors, fmt.Sprintf("invalid JSON: %v", le.Error()))
	}
	kept := ConvertForOpenAI(FilterValid(records))
	if len(kept) == 0 {
		return report, 0, fmt.Errorf("no valid records in %s", in)
	}
	if err := jsonl.WriteFile(out, kept); err != nil {
		return report, 0, err
	}
	return report, len(kept), nil
}

// LaunchRequest describes an OpenAI fine-tuning launch
type LaunchRequest struct {
	TrainPath string
	ValidPath string
	OutDir    string
	Model     string
	Suffix    string
	Epochs    int
}

// LaunchRequestFromConfig fills the job defaults from the config
func LaunchRequestFromConfig(cfg *config.FineTuneConfig, trainPath, validPath, outDir string) LaunchRequest {
	return LaunchRequest{
		TrainPath: trainPath,
		ValidPath: validPath,
		OutDir:    outDir,
		Model:     cfg.OpenAIModel,
		Suffix:    cfg.Suffix,
		Epochs:    cfg.Epochs,
	}
}

// Launch prepares and uploads the files, creates the job and saves its
// record to OutDir/finetune_job.json
func (c *OpenAIClient) Launch(ctx context.Context, req LaunchRequest) (*JobRecord, error) {
	if err := os.MkdirAll(req.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	trainFile, err := c.prepareAndUpload(ctx, req.TrainPath, filepath.Join(req.OutDir, "train_openai.jsonl"))
	if err != nil {
		return nil, err
	}

	jobReq := JobRequest{
		TrainingFile:    trainFile,
		Model:           req.Model,
		Suffix:          req.Suffix,
		Hyperparameters: Hyperparameters{NEpochs: Epochs(req.Epochs)},
	}
	if req.ValidPath != "" {
		validFile, err := c.prepareAndUpload(ctx, req.ValidPath, filepath.Join(req.OutDir, "valid_openai.jsonl"))
		if err != nil {
			return nil, err
		}
		jobReq.ValidationFile = validFile
	}

	job, err := c.CreateJob(ctx, jobReq)
	if err != nil {
		return nil, err
	}

	rec := NewJobRecord(job)
	if err := SaveJobRecord(filepath.Join(req.OutDir, JobFile), rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (c *OpenAIClient) prepareAndUpload(ctx context.Context, in, out string) (string, error) {
	report, kept, err := PrepareFile(in, out)
	if err != nil {
		return "", err
	}
	c.logger.Info().
		Str("input", in).
		Int("total", report.Total).
		Int("invalid", report.Invalid).
		Int("warnings", report.Warnings).
		Int("kept", kept).
		Msg("Validated chat file")

	file, err := c.UploadFile(ctx, out)
	if err != nil {
		return "", err
	}
	return file.ID, nil
}
