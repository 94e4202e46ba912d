package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Caia-Tech/hdrp/pkg/episode"
	"github.com/Caia-Tech/hdrp/pkg/ratelimit"
	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"
)

// MinParagraphLen drops menu items and captions from scraped pages
const MinParagraphLen = 20

// ErrDisallowed is returned for URLs robots.txt forbids
var ErrDisallowed = errors.New("disallowed by robots.txt")

// RobotCache fetches robots.txt once per host. Hosts without a readable
// robots.txt are allowed.
type RobotCache struct {
	mu     sync.Mutex
	robots map[string]*robotstxt.RobotsData
	client *http.Client
}

// NewRobotCache creates a cache using client
func NewRobotCache(client *http.Client) *RobotCache {
	return &RobotCache{
		robots: make(map[string]*robotstxt.RobotsData),
		client: client,
	}
}

// CanFetch reports whether userAgent may fetch rawURL
func (rc *RobotCache) CanFetch(ctx context.Context, rawURL, userAgent string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	base := parsed.Scheme + "://" + parsed.Host

	rc.mu.Lock()
	robots, cached := rc.robots[base]
	rc.mu.Unlock()

	if !cached {
		robots = rc.fetch(ctx, base)
		rc.mu.Lock()
		rc.robots[base] = robots
		rc.mu.Unlock()
	}

	if robots == nil {
		return true
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return robots.TestAgent(path, userAgent)
}

func (rc *RobotCache) fetch(ctx context.Context, base string) *robotstxt.RobotsData {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	resp, err := rc.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	robots, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil
	}
	return robots
}

// WebSource scrapes public pages into narrative episodes, honoring robots.txt
// and a per-host request interval
type WebSource struct {
	config    ratelimit.CollectorConfig
	client    *http.Client
	robots    *RobotCache
	limiter   *ratelimit.Limiter
	converter *Converter
}

// NewWebSource creates a web source. A nil client gets a 30s timeout client.
func NewWebSource(cfg ratelimit.CollectorConfig, client *http.Client, converter *Converter) *WebSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebSource{
		config:    cfg,
		client:    client,
		robots:    NewRobotCache(client),
		limiter:   ratelimit.NewLimiter(cfg.MinInterval),
		converter: converter,
	}
}

// Limiter exposes the per-host limiter for stats
func (w *WebSource) Limiter() *ratelimit.Limiter {
	return w.limiter
}

// Collect fetches rawURL and returns its paragraphs as an episode
func (w *WebSource) Collect(ctx context.Context, rawURL string) (episode.Episode, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return episode.Episode{}, fmt.Errorf("invalid URL %q", rawURL)
	}
	if !w.robots.CanFetch(ctx, rawURL, w.config.UserAgent) {
		return episode.Episode{}, fmt.Errorf("%s: %w", rawURL, ErrDisallowed)
	}

	var page []byte
	attempts := max(w.config.MaxRetries, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := w.limiter.Wait(ctx, parsed.Host); err != nil {
			return episode.Episode{}, err
		}
		page, err = w.get(ctx, rawURL)
		if err == nil {
			w.limiter.RecordSuccess(parsed.Host)
			break
		}
		w.limiter.RecordError(parsed.Host)
		log.Warn().Err(err).Str("url", rawURL).Int("attempt", attempt).Msg("Fetch failed")
	}
	if err != nil {
		return episode.Episode{}, err
	}

	paragraphs, err := PageParagraphs(page)
	if err != nil {
		return episode.Episode{}, err
	}
	if len(paragraphs) == 0 {
		return episode.Episode{}, fmt.Errorf("%s: no paragraphs found", rawURL)
	}
	return w.converter.NarrativeEpisode(episode.SourceWebsite, rawURL, paragraphs), nil
}

func (w *WebSource) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", w.config.UserAgent)
	if w.config.ContactEmail != "" {
		req.Header.Set("From", w.config.ContactEmail)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

// PageParagraphs returns the text of every <p> outside page chrome, with
// whitespace collapsed and short paragraphs dropped
func PageParagraphs(page []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(page)))
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}
	doc.Find("script, style, nav, header, footer, aside").Remove()

	var paragraphs []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if utf8.RuneCountInString(text) >= MinParagraphLen {
			paragraphs = append(paragraphs, text)
		}
	})
	return paragraphs, nil
}

// CollectAll scrapes every URL, skipping failures
func (w *WebSource) CollectAll(ctx context.Context, urls []string) ([]episode.Episode, error) {
	var episodes []episode.Episode
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ep, err := w.Collect(ctx, u)
		if err != nil {
			log.Warn().Err(err).Str("url", u).Msg("Skipping page")
			continue
		}
		episodes = append(episodes, ep)
	}
	return episodes, nil
}
