package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Caia-Tech/hdrp/internal/api"
	"github.com/Caia-Tech/hdrp/internal/collector"
	"github.com/Caia-Tech/hdrp/internal/pipeline"
)

var (
	runInput    string
	runEpisodes []string
	runURLs     []string
	runDocs     []string
	runSampling string
	runPublish  bool
	runRunID    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the whole pipeline locally",
	Long: `Run convert, collect, refine and export in sequence for one run, and
optionally publish the export directory. Every stage writes under its
configured directory in a subdirectory named after the run ID.

Use the server's /api/v1/runs endpoint to run the same pipeline as a
durable Temporal workflow instead.

Examples:
  hdrp run --input data/raw/train_phase2_quality.jsonl
  hdrp run --input chats.jsonl --url https://example.mr/article --publish
  hdrp run --episodes data/episodes/a.jsonl --episodes data/episodes/b.jsonl`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "chat-format JSONL to convert")
	runCmd.Flags().StringSliceVar(&runEpisodes, "episodes", nil, "existing episode file (repeatable)")
	runCmd.Flags().StringSliceVar(&runURLs, "url", nil, "web page to collect (repeatable)")
	runCmd.Flags().StringSliceVar(&runDocs, "doc", nil, "local document to collect (repeatable)")
	runCmd.Flags().StringVar(&runSampling, "sampling", "", "sampling config (default: export.sampling_config)")
	runCmd.Flags().BoolVar(&runPublish, "publish", false, "commit the export to the artifact store")
	runCmd.Flags().StringVar(&runRunID, "run-id", "", "run ID (default: generated)")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	if runInput == "" && len(runEpisodes) == 0 && len(runURLs) == 0 && len(runDocs) == 0 {
		return fmt.Errorf("no sources: pass --input, --episodes, --url or --doc")
	}

	runID := runRunID
	if runID == "" {
		runID = api.NewRunID(time.Now())
	}

	bus := pipeline.NewEventBus(256, 1)
	tracker := pipeline.NewRunTracker()
	if err := tracker.Attach(bus); err != nil {
		bus.Close()
		return err
	}

	err := runStages(cmd, runID, bus)
	bus.Close()

	if status, ok := tracker.Get(runID); ok {
		printRunStatus(cmd.OutOrStdout(), status)
	}
	return err
}

func runStages(cmd *cobra.Command, runID string, bus *pipeline.EventBus) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	out := cmd.OutOrStdout()

	episodesDir := filepath.Join(cfg.Paths.EpisodesDir, runID)
	files := append([]string(nil), runEpisodes...)

	if runInput != "" {
		conv, err := collector.NewConverter(collector.DefaultRuleset(), baseName(runInput))
		if err != nil {
			return err
		}
		conv.Publisher = bus
		path, stats, err := conv.ConvertFile(ctx, runID, runInput, episodesDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "convert: %d episodes\n", stats.TotalEpisodes)
		if stats.TotalEpisodes > 0 {
			files = append(files, path)
		}
	}

	if len(runURLs) > 0 || len(runDocs) > 0 {
		path, n, err := collectSources(ctx, runID, runURLs, runDocs, episodesDir, bus)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "collect: %d episodes\n", n)
		if n > 0 {
			files = append(files, path)
		}
	}

	if len(files) == 0 {
		return fmt.Errorf("no episodes to refine")
	}

	refined := filepath.Join(cfg.Paths.RefinedDir, runID, refinedFile)
	rm, err := refineFiles(ctx, runID, files, refined, bus)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "refine: %d -> %d episodes (%d duplicates)\n",
		rm.Counts.EpisodesInput, rm.Counts.EpisodesOutput, rm.Counts.DuplicatesRemoved)

	exportDir := filepath.Join(cfg.Paths.ExportDir, runID)
	em, err := exportFile(ctx, runID, refined, runSampling, exportDir, bus)
	if err != nil {
		return err
	}
	printExport(out, em, exportDir)

	if runPublish {
		hash, stored, err := publishDir(ctx, runID, exportDir, bus)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "publish: %d artifacts (commit %s)\n", len(stored), hash)
	}
	return nil
}

func printRunStatus(w io.Writer, status pipeline.RunStatus) {
	fmt.Fprintf(w, "\nRun %s\n", status.RunID)
	for _, s := range status.Stages {
		line := fmt.Sprintf("  %-8s %-10s", s.Name, s.State)
		if !s.StartedAt.IsZero() && !s.CompletedAt.IsZero() {
			line += " " + s.CompletedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
		}
		if s.Error != "" {
			line += " " + s.Error
		}
		fmt.Fprintln(w, line)
	}
}
