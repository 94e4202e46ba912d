package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Caia-Tech/hdrp/internal/export"
)

var (
	exportOut      string
	exportSampling string
	exportRunID    string
)

var exportCmd = &cobra.Command{
	Use:   "export <episodes_refined.jsonl>",
	Short: "Split refined episodes and write the training corpora",
	Long: `Split refined episodes into train and eval sets without leakage, then
write dapt.jsonl (continued pretraining), sft.jsonl (instruction tuning) and
eval.jsonl together with a manifest that records the Definition-of-Done gates.

Examples:
  hdrp export data/refined/episodes_refined.jsonl
  hdrp export refined.jsonl --sampling configs/sampling_config.json --out data/exports/v2`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "export directory (default: paths.export_dir/<run-id>)")
	exportCmd.Flags().StringVar(&exportSampling, "sampling", "", "sampling config (default: export.sampling_config)")
	exportCmd.Flags().StringVar(&exportRunID, "run-id", "", "run ID recorded in the manifest")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	runID := exportRunID
	if runID == "" {
		runID = export.NewRunID(time.Now())
	}
	outDir := exportOut
	if outDir == "" {
		outDir = filepath.Join(cfg.Paths.ExportDir, runID)
	}

	m, err := exportFile(ctx, runID, args[0], exportSampling, outDir, nil)
	if err != nil {
		return err
	}
	printExport(cmd.OutOrStdout(), m, outDir)
	return nil
}

func printExport(w io.Writer, m *export.Manifest, outDir string) {
	fmt.Fprintf(w, "Exported to %s\n", outDir)
	fmt.Fprintf(w, "  episodes  train %d  eval %d  dropped %d\n",
		m.Counts.EpisodesTrain, m.Counts.EpisodesEval, m.Counts.EpisodesDropped)
	fmt.Fprintf(w, "  records   dapt %d  sft %d  eval %d\n",
		m.Counts.DAPTRecords, m.Counts.SFTRecords, m.Counts.EvalRecords)

	fmt.Fprintln(w, "Definition of Done:")
	printGate(w, "dapt tokens", m.Gates.DAPTTokens)
	printGate(w, "sft turns", m.Gates.SFTTurns)
	printGate(w, "dialogue ratio", m.Gates.DialogueRatio)
	fmt.Fprintf(w, "  %-16s %s\n", "leakage free", passFail(m.Gates.LeakageFree))
	fmt.Fprintf(w, "  %-16s %s\n", "all gates", passFail(m.Gates.AllPass))
}

func printGate(w io.Writer, name string, g export.GateCheck) {
	fmt.Fprintf(w, "  %-16s %s (%g / %g)\n", name, passFail(g.Pass), g.Value, g.Required)
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}
