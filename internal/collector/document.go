package collector

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Caia-Tech/hdrp/pkg/episode"
	"github.com/Caia-Tech/hdrp/pkg/extractor"
	"github.com/rs/zerolog/log"
)

// NarrativeEpisode builds an unscored narrator episode with one segment per paragraph
func (c *Converter) NarrativeEpisode(sourceType, uri string, paragraphs []string) episode.Episode {
	now := c.now()
	all := strings.Join(paragraphs, " ")

	ep := episode.Episode{
		EpisodeID:       c.episodeID(now),
		SourceType:      sourceType,
		SourceURI:       uri,
		CapturedAt:      episode.Timestamp{Time: now},
		Bucket:          c.classifier.Bucket(all),
		InteractionMode: episode.ModeNarrative,
		Topic:           c.classifier.Topic(all),
		Heat:            c.classifier.Heat(all),
		Segments:        make([]episode.Segment, 0, len(paragraphs)),
	}
	for i, p := range paragraphs {
		ep.Segments = append(ep.Segments, episode.NewSegment(i+1, episode.SpeakerNarrator, p, LangProbs(p)))
	}
	return ep
}

// DocumentSource turns local documents into narrative episodes
type DocumentSource struct {
	engine    *extractor.Engine
	converter *Converter
}

// NewDocumentSource uses engine to read files; a nil engine gets the default one
func NewDocumentSource(engine *extractor.Engine, converter *Converter) *DocumentSource {
	if engine == nil {
		engine = extractor.NewEngine()
	}
	return &DocumentSource{engine: engine, converter: converter}
}

// Collect extracts path into an episode. Documents without any text are an error.
func (d *DocumentSource) Collect(ctx context.Context, path string) (episode.Episode, error) {
	text, metadata, err := d.engine.ExtractFile(ctx, path)
	if err != nil {
		return episode.Episode{}, err
	}

	paragraphs := extractor.Paragraphs(text)
	if len(paragraphs) == 0 {
		return episode.Episode{}, fmt.Errorf("%s: no text extracted", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	log.Debug().
		Str("path", path).
		Int("paragraphs", len(paragraphs)).
		Interface("metadata", metadata).
		Msg("Document collected")

	return d.converter.NarrativeEpisode(episode.SourceDocument, "file://"+filepath.ToSlash(abs), paragraphs), nil
}

// CollectAll collects every path, skipping documents that fail to extract
func (d *DocumentSource) CollectAll(ctx context.Context, paths []string) ([]episode.Episode, error) {
	var episodes []episode.Episode
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ep, err := d.Collect(ctx, p)
		if err != nil {
			log.Warn().Err(err).Str("path", p).Msg("Skipping document")
			continue
		}
		episodes = append(episodes, ep)
	}
	return episodes, nil
}
