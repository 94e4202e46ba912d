package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var publishRunID string

var publishCmd = &cobra.Command{
	Use:   "publish <dir>",
	Short: "Commit an export directory to the artifact store",
	Long: `Commit every file of an export directory to the configured artifact store
(git, govc or hybrid) under runs/<run-id>/ in a single commit.

Examples:
  hdrp publish data/exports/export_20250314_1040
  hdrp publish out/ --run-id run_20250314_1040`,
	Args: cobra.ExactArgs(1),
	RunE: runPublishDir,
}

func init() {
	publishCmd.Flags().StringVar(&publishRunID, "run-id", "", "run ID (default: directory name)")
}

func runPublishDir(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	dir := args[0]
	runID := publishRunID
	if runID == "" {
		runID = filepath.Base(filepath.Clean(dir))
	}

	hash, stored, err := publishDir(ctx, runID, dir, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Published %d artifacts to %s (commit %s)\n", len(stored), cfg.Storage.Backend, hash)
	for _, p := range stored {
		fmt.Fprintf(out, "  %s\n", p)
	}
	return nil
}
