package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Caia-Tech/hdrp/internal/finetune"
)

var (
	ftTrain       string
	ftValid       string
	ftOut         string
	ftModel       string
	ftSuffix      string
	ftEpochs      int
	ftJobID       string
	ftInterval    time.Duration
	ftLimit       int
	ftAdapterPath string
	ftPrepareOnly bool
)

var finetuneCmd = &cobra.Command{
	Use:   "finetune",
	Short: "Launch and monitor fine-tuning jobs on exported corpora",
}

var finetuneOpenAICmd = &cobra.Command{
	Use:   "openai",
	Short: "Validate, upload and start an OpenAI fine-tuning job",
	Long: `Validate a chat export, drop records the API would reject, upload the
training (and optional validation) file and create a fine-tuning job.
The job is recorded in finetune_job.json. OPENAI_API_KEY must be set.

Examples:
  hdrp finetune openai --train data/exports/run_x/sft.jsonl --valid data/exports/run_x/eval.jsonl`,
	Args: cobra.NoArgs,
	RunE: runFinetuneOpenAI,
}

var finetuneMonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll a fine-tuning job until it finishes",
	Long: `Poll a job every --interval and print each status change. The job ID
defaults to the one in finetune_job.json, which is updated as the job
progresses.`,
	Args: cobra.NoArgs,
	RunE: runFinetuneMonitor,
}

var finetuneListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent fine-tuning jobs",
	Args:  cobra.NoArgs,
	RunE:  runFinetuneList,
}

var finetuneCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a fine-tuning job",
	Args:  cobra.ExactArgs(1),
	RunE:  runFinetuneCancel,
}

var finetuneMLXCmd = &cobra.Command{
	Use:   "mlx",
	Short: "Fine-tune a local model with MLX LoRA",
	Long: `Reduce a chat export to single-turn system/user/assistant chats, split it
into train.jsonl and valid.jsonl and run python -m mlx_lm.lora on it.
Requires Apple Silicon with mlx-lm installed.

Examples:
  hdrp finetune mlx --train data/exports/run_x/sft.jsonl
  hdrp finetune mlx --train sft.jsonl --prepare-only`,
	Args: cobra.NoArgs,
	RunE: runFinetuneMLX,
}

func init() {
	finetuneOpenAICmd.Flags().StringVar(&ftTrain, "train", "", "training chat file (required)")
	finetuneOpenAICmd.Flags().StringVar(&ftValid, "valid", "", "validation chat file")
	finetuneOpenAICmd.Flags().StringVarP(&ftOut, "out", "o", "", "directory for prepared files and the job record (default: paths.finetune_dir)")
	finetuneOpenAICmd.Flags().StringVar(&ftModel, "model", "", "base model (default: finetune.openai_model)")
	finetuneOpenAICmd.Flags().StringVar(&ftSuffix, "suffix", "", "model name suffix (default: finetune.suffix)")
	finetuneOpenAICmd.Flags().IntVar(&ftEpochs, "epochs", 0, "training epochs (default: finetune.epochs)")
	finetuneOpenAICmd.MarkFlagRequired("train")

	finetuneMonitorCmd.Flags().StringVar(&ftJobID, "job-id", "", "job to monitor (default: from the job record)")
	finetuneMonitorCmd.Flags().StringVarP(&ftOut, "out", "o", "", "directory holding finetune_job.json (default: paths.finetune_dir)")
	finetuneMonitorCmd.Flags().DurationVar(&ftInterval, "interval", 0, "poll interval (default: finetune.poll_interval)")

	finetuneListCmd.Flags().IntVar(&ftLimit, "limit", 10, "number of jobs to list")

	finetuneMLXCmd.Flags().StringVar(&ftTrain, "train", "", "chat file to train on (required)")
	finetuneMLXCmd.Flags().StringVarP(&ftOut, "out", "o", "", "directory for train.jsonl and valid.jsonl (default: paths.finetune_dir/mlx)")
	finetuneMLXCmd.Flags().StringVar(&ftAdapterPath, "adapter-path", "./models/hassaniya-mlx", "where mlx_lm writes the LoRA adapters")
	finetuneMLXCmd.Flags().BoolVar(&ftPrepareOnly, "prepare-only", false, "write the data files without training")
	finetuneMLXCmd.MarkFlagRequired("train")

	finetuneCmd.AddCommand(finetuneOpenAICmd)
	finetuneCmd.AddCommand(finetuneMonitorCmd)
	finetuneCmd.AddCommand(finetuneListCmd)
	finetuneCmd.AddCommand(finetuneCancelCmd)
	finetuneCmd.AddCommand(finetuneMLXCmd)
}

func finetuneDir() string {
	if ftOut != "" {
		return ftOut
	}
	return cfg.Paths.FineTuneDir
}

func runFinetuneOpenAI(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	client, err := finetune.OpenAIClientFromConfig(cfg.FineTune)
	if err != nil {
		return err
	}

	req := finetune.LaunchRequestFromConfig(cfg.FineTune, ftTrain, ftValid, finetuneDir())
	if ftModel != "" {
		req.Model = ftModel
	}
	if ftSuffix != "" {
		req.Suffix = ftSuffix
	}
	if ftEpochs > 0 {
		req.Epochs = ftEpochs
	}

	rec, err := client.Launch(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created job %s (%s)\n", rec.JobID, rec.Status)
	fmt.Fprintf(out, "  model          %s\n", rec.Model)
	fmt.Fprintf(out, "  training file  %s\n", rec.TrainingFile)
	if rec.ValidationFile != "" {
		fmt.Fprintf(out, "  validation     %s\n", rec.ValidationFile)
	}
	fmt.Fprintf(out, "Record: %s\n", filepath.Join(finetuneDir(), finetune.JobFile))
	fmt.Fprintln(out, "Follow it with: hdrp finetune monitor")
	return nil
}

func runFinetuneMonitor(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	client, err := finetune.OpenAIClientFromConfig(cfg.FineTune)
	if err != nil {
		return err
	}

	recordPath := filepath.Join(finetuneDir(), finetune.JobFile)
	rec, recErr := finetune.LoadJobRecord(recordPath)
	jobID := ftJobID
	if jobID == "" {
		if recErr != nil {
			return fmt.Errorf("no --job-id given: %w", recErr)
		}
		jobID = rec.JobID
	}
	if rec != nil && rec.JobID != jobID {
		rec = nil
	}

	interval := ftInterval
	if interval <= 0 {
		interval = cfg.FineTune.PollInterval
	}

	out := cmd.OutOrStdout()
	job, err := client.Monitor(ctx, jobID, interval, func(j *finetune.Job) {
		fmt.Fprintf(out, "[%s] %s\n", time.Now().Format("15:04:05"), j.Status)
		if rec != nil {
			rec.Update(j)
			if err := finetune.SaveJobRecord(recordPath, rec); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to update job record: %v\n", err)
			}
		}
	})
	if err != nil {
		return err
	}

	switch job.Status {
	case finetune.StatusSucceeded:
		fmt.Fprintf(out, "Fine-tuned model: %s (%d tokens)\n", job.FineTunedModel, job.TrainedTokens)
	case finetune.StatusFailed:
		msg := "unknown error"
		if job.Error != nil {
			msg = job.Error.Message
		}
		return fmt.Errorf("job %s failed: %s", job.ID, msg)
	default:
		fmt.Fprintf(out, "Job %s %s\n", job.ID, job.Status)
	}
	return nil
}

func runFinetuneList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	client, err := finetune.OpenAIClientFromConfig(cfg.FineTune)
	if err != nil {
		return err
	}
	jobs, err := client.ListJobs(ctx, ftLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No fine-tuning jobs.")
		return nil
	}
	for _, j := range jobs {
		created := time.Unix(j.CreatedAt, 0).Format("2006-01-02 15:04")
		fmt.Fprintf(out, "%-32s %-16s %s  %s\n", j.ID, j.Status, created, j.FineTunedModel)
	}
	return nil
}

func runFinetuneCancel(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	client, err := finetune.OpenAIClientFromConfig(cfg.FineTune)
	if err != nil {
		return err
	}
	job, err := client.CancelJob(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s\n", job.ID, job.Status)
	return nil
}

func runFinetuneMLX(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	dataDir := ftOut
	if dataDir == "" {
		dataDir = filepath.Join(cfg.Paths.FineTuneDir, "mlx")
	}

	launcher := finetune.NewMLXLauncher(finetune.MLXOptionsFromConfig(cfg.FineTune))
	train, valid, err := launcher.PrepareData(ftTrain, dataDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Prepared %d train / %d valid chats in %s\n", train, valid, dataDir)
	if ftPrepareOnly {
		return nil
	}

	if err := launcher.Run(ctx, dataDir, ftAdapterPath); err != nil {
		return err
	}
	fmt.Fprintf(out, "Adapters written to %s\n", ftAdapterPath)
	return nil
}
