package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Caia-Tech/hdrp/internal/refinery"
)

var (
	refineOutput string
	refineRunID  string
)

var refineCmd = &cobra.Command{
	Use:   "refine <episodes.jsonl>...",
	Short: "Normalize, score and deduplicate episodes",
	Long: `Refine one or more episode files: every segment gets a normalized text
variant, a data quality score and an ACCEPT, REVIEW or REJECT decision, then
episodes sharing segment content with an earlier episode are dropped.

A refinery manifest is written to paths.manifests_dir.

Examples:
  hdrp refine data/episodes/episodes_batch_initial.jsonl
  hdrp refine a.jsonl b.jsonl --output data/refined/merged.jsonl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRefine,
}

func init() {
	refineCmd.Flags().StringVarP(&refineOutput, "output", "o", "", "refined episodes file (default: paths.refined_dir/episodes_refined.jsonl)")
	refineCmd.Flags().StringVar(&refineRunID, "run-id", "", "run ID recorded in the manifest")
}

func runRefine(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	output := refineOutput
	if output == "" {
		output = filepath.Join(cfg.Paths.RefinedDir, refinedFile)
	}
	runID := refineRunID
	if runID == "" {
		runID = refinery.NewRunID(time.Now())
	}

	m, err := refineFiles(ctx, runID, args, output, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Refined %d -> %d episodes -> %s\n", m.Counts.EpisodesInput, m.Counts.EpisodesOutput, output)
	fmt.Fprintf(out, "Segments: %d  ACCEPT %d  REVIEW %d  REJECT %d\n",
		m.Counts.SegmentsTotal, m.Counts.SegmentsAccept, m.Counts.SegmentsReview, m.Counts.SegmentsReject)
	fmt.Fprintf(out, "Duplicates removed: %d\n", m.Counts.DuplicatesRemoved)
	return nil
}
