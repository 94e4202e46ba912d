package finetune

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Caia-Tech/hdrp/pkg/logging"
	config "github.com/Caia-Tech/hdrp/pkg/pipeline"
	"github.com/Caia-Tech/hdrp/pkg/ratelimit"
)

// APIKeyEnv names the environment variable holding the OpenAI key
const APIKeyEnv = "OPENAI_API_KEY"

const limiterSource = "openai"

// Job statuses reported by the fine-tuning API
const (
	StatusValidatingFiles = "validating_files"
	StatusQueued          = "queued"
	StatusRunning         = "running"
	StatusSucceeded       = "succeeded"
	StatusFailed          = "failed"
	StatusCancelled       = "cancelled"
)

// APIError is a non-2xx answer from the API
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed when repeated
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// File is an uploaded training file
type File struct {
	ID        string `json:"id"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
	Status    string `json:"status,omitempty"`
}

// Epochs is an epoch count; the API answers "auto" when none was requested,
// which decodes to zero
type Epochs int

func (e *Epochs) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		*e = 0
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("n_epochs: %w", err)
	}
	*e = Epochs(n)
	return nil
}

// Hyperparameters of a fine-tuning job
type Hyperparameters struct {
	NEpochs Epochs `json:"n_epochs"`
}

// JobRequest creates a fine-tuning job
type JobRequest struct {
	TrainingFile    string          `json:"training_file"`
	ValidationFile  string          `json:"validation_file,omitempty"`
	Model           string          `json:"model"`
	Suffix          string          `json:"suffix,omitempty"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`
}

// JobError explains a failed job
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Job is a fine-tuning job as the API reports it
type Job struct {
	ID              string          `json:"id"`
	Model           string          `json:"model"`
	Status          string          `json:"status"`
	TrainingFile    string          `json:"training_file"`
	ValidationFile  string          `json:"validation_file,omitempty"`
	FineTunedModel  string          `json:"fine_tuned_model,omitempty"`
	TrainedTokens   int64           `json:"trained_tokens,omitempty"`
	CreatedAt       int64           `json:"created_at"`
	FinishedAt      int64           `json:"finished_at,omitempty"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`
	Error           *JobError       `json:"error,omitempty"`
}

// Terminal reports whether the job will not change status again
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type jobList struct {
	Data    []Job `json:"data"`
	HasMore bool  `json:"has_more"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// OpenAIClient talks to the files and fine-tuning endpoints. Every request is
// paced by the shared limiter.
type OpenAIClient struct {
	HTTPClient *http.Client

	baseURL string
	apiKey  string
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
}

// NewOpenAIClient creates a client for baseURL allowing requestsPerMin calls
func NewOpenAIClient(baseURL, apiKey string, requestsPerMin int) *OpenAIClient {
	return &OpenAIClient{
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		limiter:    ratelimit.NewLimiter(ratelimit.PerMinute(requestsPerMin)),
		logger:     logging.GetLogger("openai"),
	}
}

// OpenAIClientFromConfig builds a client with the key from OPENAI_API_KEY
func OpenAIClientFromConfig(cfg *config.FineTuneConfig) (*OpenAIClient, error) {
	key := os.Getenv(APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%s is not set", APIKeyEnv)
	}
	return NewOpenAIClient(cfg.OpenAIBaseURL, key, cfg.RequestsPerMin), nil
}

// UploadFile uploads a JSONL file with purpose fine-tune
func (c *OpenAIClient) UploadFile(ctx context.Context, path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("purpose", "fine-tune"); err != nil {
		return nil, err
	}
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	var out File
	if err := c.do(ctx, http.MethodPost, "/files", writer.FormDataContentType(), &buf, &out); err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("file_id", out.ID).
		Str("filename", out.Filename).
		Int64("bytes", out.Bytes).
		Msg("Uploaded training file")
	return &out, nil
}

// CreateJob starts a fine-tuning job
func (c *OpenAIClient) CreateJob(ctx context.Context, req JobRequest) (*Job, error) {
	if req.TrainingFile == "" {
		return nil, fmt.Errorf("training file ID is required")
	}
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	var out Job
	if err := c.doJSON(ctx, http.MethodPost, "/fine_tuning/jobs", req, &out); err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("job_id", out.ID).
		Str("model", out.Model).
		Str("status", out.Status).
		Msg("Created fine-tuning job")
	return &out, nil
}

// RetrieveJob fetches the current state of a job
func (c *OpenAIClient) RetrieveJob(ctx context.Context, jobID string) (*Job, error) {
	var out Job
	if err := c.doJSON(ctx, http.MethodGet, "/fine_tuning/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs returns the most recent jobs, newest first
func (c *OpenAIClient) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 10
	}
	var out jobList
	path := "/fine_tuning/jobs?limit=" + strconv.Itoa(limit)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CancelJob cancels a queued or running job
func (c *OpenAIClient) CancelJob(ctx context.Context, jobID string) (*Job, error) {
	var out Job
	path := "/fine_tuning/jobs/" + url.PathEscape(jobID) + "/cancel"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	c.logger.Info().Str("job_id", jobID).Str("status", out.Status).Msg("Cancelled fine-tuning job")
	return &out, nil
}

// Monitor polls the job until it reaches a terminal status. onChange is
// called whenever the status differs from the previous poll. Transport
// errors and retryable API errors (429, 5xx) are logged and retried on the
// next tick; any other API error, such as an unknown job or a bad key, ends
// the monitor.
func (c *OpenAIClient) Monitor(ctx context.Context, jobID string, interval time.Duration, onChange func(*Job)) (*Job, error) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastStatus := ""
	for {
		job, err := c.RetrieveJob(ctx, jobID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Retryable() {
				return nil, fmt.Errorf("monitoring job %s: %w", jobID, err)
			}
			c.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to poll job")
		default:
			if job.Status != lastStatus {
				lastStatus = job.Status
				c.logger.Info().Str("job_id", jobID).Str("status", job.Status).Msg("Job status changed")
				if onChange != nil {
					onChange(job)
				}
			}
			if job.Terminal() {
				return job, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *OpenAIClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, contentType, reader, out)
}

func (c *OpenAIClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	if err := c.limiter.Wait(ctx, limiterSource); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.limiter.RecordError(limiterSource)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.limiter.RecordError(limiterSource)
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
		if apiErr.Retryable() {
			c.limiter.RecordError(limiterSource)
		}
		return apiErr
	}
	c.limiter.RecordSuccess(limiterSource)

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}
