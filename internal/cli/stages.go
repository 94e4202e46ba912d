package cli

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/Caia-Tech/hdrp/internal/collector"
	"github.com/Caia-Tech/hdrp/internal/export"
	"github.com/Caia-Tech/hdrp/internal/jsonl"
	"github.com/Caia-Tech/hdrp/internal/pipeline"
	"github.com/Caia-Tech/hdrp/internal/refinery"
	"github.com/Caia-Tech/hdrp/internal/storage"
	"github.com/Caia-Tech/hdrp/pkg/episode"
	"github.com/Caia-Tech/hdrp/pkg/extractor"
	config "github.com/Caia-Tech/hdrp/pkg/pipeline"
	"github.com/Caia-Tech/hdrp/pkg/ratelimit"
)

// File names written by the local stages
const (
	collectedFile = "episodes_collected.jsonl"
	combinedFile  = "episodes_combined.jsonl"
	refinedFile   = "episodes_refined.jsonl"
)

// collectSources scrapes urls and extracts docs into outDir/episodes_collected.jsonl
func collectSources(ctx context.Context, runID string, urls, docs []string, outDir string, pub pipeline.Publisher) (string, int, error) {
	pipeline.Emit(pub, pipeline.NewRunEvent(pipeline.EventStageStarted, runID, pipeline.StageCollect))
	path, n, err := collectInto(ctx, urls, docs, outDir, pub)
	if err != nil {
		pipeline.Emit(pub, pipeline.NewRunEvent(pipeline.EventStageFailed, runID, pipeline.StageCollect).WithError(err))
		return "", 0, err
	}
	pipeline.Emit(pub, pipeline.NewRunEvent(pipeline.EventStageCompleted, runID, pipeline.StageCollect).
		WithData("episodes", n))
	return path, n, nil
}

func collectInto(ctx context.Context, urls, docs []string, outDir string, pub pipeline.Publisher) (string, int, error) {
	conv, err := collector.NewConverter(collector.DefaultRuleset(), "")
	if err != nil {
		return "", 0, err
	}
	conv.Publisher = pub

	var episodes []episode.Episode
	if len(docs) > 0 {
		eps, err := collector.NewDocumentSource(extractor.NewEngine(), conv).CollectAll(ctx, docs)
		if err != nil {
			return "", 0, err
		}
		episodes = append(episodes, eps...)
	}
	if len(urls) > 0 {
		client := &http.Client{Timeout: 30 * time.Second}
		eps, err := collector.NewWebSource(ratelimit.DefaultCollectorConfig(), client, conv).CollectAll(ctx, urls)
		if err != nil {
			return "", 0, err
		}
		episodes = append(episodes, eps...)
	}

	path := filepath.Join(outDir, collectedFile)
	if err := jsonl.WriteFile(path, episodes); err != nil {
		return "", 0, err
	}
	return path, len(episodes), nil
}

// refineFiles refines one or more episode files into output
func refineFiles(ctx context.Context, runID string, files []string, output string, pub pipeline.Publisher) (*refinery.Manifest, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no episode files to refine")
	}
	opts := refinery.OptionsFromConfig(cfg.Refinery)
	opts.Publisher = pub
	r, err := refinery.New(opts)
	if err != nil {
		return nil, err
	}

	input := files[0]
	if len(files) > 1 {
		var all []episode.Episode
		for _, f := range files {
			eps, _, err := jsonl.ReadFile[episode.Episode](f)
			if err != nil {
				return nil, err
			}
			all = append(all, eps...)
		}
		input = filepath.Join(filepath.Dir(output), combinedFile)
		if err := jsonl.WriteFile(input, all); err != nil {
			return nil, err
		}
	}
	return r.RunFile(ctx, runID, input, output, cfg.Paths.ManifestsDir)
}

// loadSampling reads the sampling config, falling back to the built-in weights
func loadSampling(path string) (*config.SamplingConfig, error) {
	if path == "" {
		path = cfg.Export.SamplingConfig
	}
	if path == "" {
		return config.DefaultSamplingConfig(), nil
	}
	return config.LoadSamplingConfig(path)
}

// exportFile splits a refined episode file and writes the corpora into outDir
func exportFile(ctx context.Context, runID, refined, samplingPath, outDir string, pub pipeline.Publisher) (*export.Manifest, error) {
	sampling, err := loadSampling(samplingPath)
	if err != nil {
		return nil, err
	}
	episodes, _, err := jsonl.ReadFile[episode.Episode](refined)
	if err != nil {
		return nil, err
	}
	opts := export.OptionsFromConfig(cfg.Export)
	opts.Publisher = pub
	return export.New(opts).Run(ctx, runID, episodes, sampling, outDir, cfg.Paths.ManifestsDir)
}

// publishDir commits dir to the configured artifact store
func publishDir(ctx context.Context, runID, dir string, pub pipeline.Publisher) (string, []string, error) {
	store, err := storage.NewStore(cfg.Storage, storage.NewSimpleMetricsCollector())
	if err != nil {
		return "", nil, err
	}
	pipeline.Emit(pub, pipeline.NewRunEvent(pipeline.EventStageStarted, runID, pipeline.StagePublish))
	hash, stored, err := storage.PublishRun(ctx, store, runID, dir)
	if err != nil {
		pipeline.Emit(pub, pipeline.NewRunEvent(pipeline.EventStageFailed, runID, pipeline.StagePublish).WithError(err))
		return "", nil, err
	}
	pipeline.Emit(pub, pipeline.NewRunEvent(pipeline.EventStageCompleted, runID, pipeline.StagePublish).
		WithData("commit", hash).
		WithData("artifacts", len(stored)))
	return hash, stored, nil
}
