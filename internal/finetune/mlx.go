package finetune

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Caia-Tech/hdrp/internal/jsonl"
	"github.com/Caia-Tech/hdrp/pkg/episode"
	"github.com/Caia-Tech/hdrp/pkg/logging"
	config "github.com/Caia-Tech/hdrp/pkg/pipeline"
)

// DefaultSystemPrompt is used for chats that carry no system message
const DefaultSystemPrompt = "You are a helpful assistant that speaks Hassaniya Arabic dialect."

// MLX data files expected by mlx_lm.lora --data
const (
	MLXTrainFile = "train.jsonl"
	MLXValidFile = "valid.jsonl"
)

// MLXOptions configures a local LoRA run
type MLXOptions struct {
	Python        string
	Model         string
	Epochs        int
	BatchSize     int
	LearningRate  float64
	LoRARank      int
	ItersPerEpoch int
	ValidRatio    float64
}

// MLXOptionsFromConfig maps the finetune section of the pipeline config
func MLXOptionsFromConfig(cfg *config.FineTuneConfig) MLXOptions {
	return MLXOptions{
		Python:        cfg.MLXPython,
		Model:         cfg.MLXModel,
		Epochs:        cfg.Epochs,
		BatchSize:     cfg.MLXBatchSize,
		LearningRate:  cfg.MLXLearningRate,
		LoRARank:      cfg.MLXLoRARank,
		ItersPerEpoch: cfg.MLXItersPerEpoch,
		ValidRatio:    cfg.MLXValidRatio,
	}
}

// MLXLauncher prepares data for and runs mlx_lm.lora
type MLXLauncher struct {
	opts   MLXOptions
	logger zerolog.Logger
}

// NewMLXLauncher creates a launcher
func NewMLXLauncher(opts MLXOptions) *MLXLauncher {
	if opts.Python == "" {
		opts.Python = "python"
	}
	return &MLXLauncher{
		opts:   opts,
		logger: logging.GetLogger("mlx"),
	}
}

// SingleTurn reduces a chat to system, user and assistant messages. The last
// user and assistant turns win. ok is false when either is missing.
func SingleTurn(rec episode.ChatRecord) (episode.ChatRecord, bool) {
	system := DefaultSystemPrompt
	var user, assistant string
	for _, m := range rec.Messages {
		switch m.Role {
		case episode.RoleSystem:
			system = m.Content
		case episode.RoleUser:
			user = m.Content
		case episode.RoleAssistant:
			assistant = m.Content
		}
	}
	if user == "" || assistant == "" {
		return episode.ChatRecord{}, false
	}
	return episode.ChatRecord{Messages: []episode.Message{
		{Role: episode.RoleSystem, Content: system},
		{Role: episode.RoleUser, Content: user},
		{Role: episode.RoleAssistant, Content: assistant},
	}}, true
}

// PrepareData converts a chat export into dataDir/train.jsonl and
// dataDir/valid.jsonl. The tail ValidRatio of the records becomes the
// validation set.
func (l *MLXLauncher) PrepareData(in, dataDir string) (train, valid int, err error) {
	records, _, err := jsonl.ReadFile[episode.ChatRecord](in)
	if err != nil {
		return 0, 0, err
	}

	var chats []episode.ChatRecord
	for _, rec := range records {
		if turn, ok := SingleTurn(rec); ok {
			chats = append(chats, turn)
		}
	}
	if len(chats) == 0 {
		return 0, 0, fmt.Errorf("no single-turn chats in %s", in)
	}

	split := len(chats) - int(math.Round(float64(len(chats))*l.opts.ValidRatio))
	if err := jsonl.WriteFile(filepath.Join(dataDir, MLXTrainFile), chats[:split]); err != nil {
		return 0, 0, err
	}
	if err := jsonl.WriteFile(filepath.Join(dataDir, MLXValidFile), chats[split:]); err != nil {
		return 0, 0, err
	}

	l.logger.Info().
		Str("input", in).
		Int("train", split).
		Int("valid", len(chats)-split).
		Msg("Prepared MLX data")
	return split, len(chats) - split, nil
}

// Args returns the command line for a training run
func (l *MLXLauncher) Args(dataDir, adapterDir string) []string {
	return []string{
		"-m", "mlx_lm.lora",
		"--model", l.opts.Model,
		"--train",
		"--data", dataDir,
		"--iters", strconv.Itoa(l.opts.Epochs * l.opts.ItersPerEpoch),
		"--batch-size", strconv.Itoa(l.opts.BatchSize),
		"--learning-rate", strconv.FormatFloat(l.opts.LearningRate, 'g', -1, 64),
		"--lora-rank", strconv.Itoa(l.opts.LoRARank),
		"--adapter-path", adapterDir,
	}
}

// Run starts training and logs every line the trainer prints until it exits
func (l *MLXLauncher) Run(ctx context.Context, dataDir, adapterDir string) error {
	args := l.Args(dataDir, adapterDir)
	cmd := exec.CommandContext(ctx, l.opts.Python, args...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	l.logger.Info().
		Str("command", l.opts.Python+" "+strings.Join(args, " ")).
		Msg("Starting MLX training")

	if err := cmd.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("failed to start trainer: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			l.logger.Info().Str("source", "mlx_lm").Msg(scanner.Text())
		}
		// Keep draining so the trainer never blocks on a full pipe
		io.Copy(io.Discard, pr)
	}()

	err := cmd.Wait()
	pw.Close()
	<-done

	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	l.logger.Info().Str("adapter_path", adapterDir).Msg("MLX training complete")
	return nil
}
