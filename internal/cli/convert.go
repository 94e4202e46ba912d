package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Caia-Tech/hdrp/internal/collector"
	"github.com/Caia-Tech/hdrp/internal/refinery"
)

var (
	convertOut     string
	convertDataset string
	convertRunID   string
)

var convertCmd = &cobra.Command{
	Use:   "convert <chat.jsonl>",
	Short: "Convert chat-format training data into episodes",
	Long: `Convert a JSONL file of {"messages": [...], "_source": "..."} chat samples
into episodes. Every sample is classified into a bucket, topic, heat level and
interaction mode; its non-system messages become unscored segments.

Writes episodes_batch_initial.jsonl and conversion_stats.json.

Examples:
  hdrp convert data/raw/train_phase2_quality.jsonl
  hdrp convert chats.jsonl --out data/episodes/batch2 --dataset whatsapp_export`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertOut, "out", "o", "", "output directory (default: paths.episodes_dir)")
	convertCmd.Flags().StringVar(&convertDataset, "dataset", "", "dataset name used in source URIs (default: input file name)")
	convertCmd.Flags().StringVar(&convertRunID, "run-id", "", "run ID attached to stage events")
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	input := args[0]
	outDir := convertOut
	if outDir == "" {
		outDir = cfg.Paths.EpisodesDir
	}
	dataset := convertDataset
	if dataset == "" {
		dataset = baseName(input)
	}
	runID := convertRunID
	if runID == "" {
		runID = refinery.NewRunID(time.Now())
	}

	conv, err := collector.NewConverter(collector.DefaultRuleset(), dataset)
	if err != nil {
		return err
	}
	path, stats, err := conv.ConvertFile(ctx, runID, input, outDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Converted %d episodes -> %s\n", stats.TotalEpisodes, path)
	printDistribution(out, "Buckets", stats.BucketDistribution, stats.TotalEpisodes)
	printDistribution(out, "Interaction modes", stats.InteractionModeDistribution, stats.TotalEpisodes)
	printDistribution(out, "Topics", stats.TopicDistribution, stats.TotalEpisodes)
	return nil
}

// printDistribution prints counts largest first with their share of total
func printDistribution(w io.Writer, title string, counts map[string]int, total int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	fmt.Fprintf(w, "\n%s:\n", title)
	for _, k := range keys {
		pct := 0.0
		if total > 0 {
			pct = float64(counts[k]) / float64(total) * 100
		}
		fmt.Fprintf(w, "  %-24s %6d (%.1f%%)\n", k, counts[k], pct)
	}
}

func baseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
