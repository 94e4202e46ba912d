package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Caia-Tech/hdrp/pkg/episode"
	"github.com/Caia-Tech/hdrp/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = `<html><head><style>p { color: red }</style></head><body>
<nav><p>Home | About | Contact us today please</p></nav>
<p>مرحبا بيكم في موقعنا، هذا نص طويل بالحسانية</p>
<p>short</p>
<footer><p>Copyright notice for the whole website</p></footer>
<p>  السوق اليوم
   فيه سعر زين للبيع  </p>
</body></html>`

func newTestServer(t *testing.T, robotsHits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(robotsHits, 1)
		fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "HDRP-Test/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, testPage)
	})
	mux.HandleFunc("/private/page", func(w http.ResponseWriter, r *http.Request) {
		t.Error("disallowed page was fetched")
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testCollectorConfig() ratelimit.CollectorConfig {
	return ratelimit.CollectorConfig{UserAgent: "HDRP-Test/1.0", MaxRetries: 1}
}

func TestPageParagraphs(t *testing.T) {
	paragraphs, err := PageParagraphs([]byte(testPage))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"مرحبا بيكم في موقعنا، هذا نص طويل بالحسانية",
		"السوق اليوم فيه سعر زين للبيع",
	}, paragraphs)
}

func TestWebSource_Collect(t *testing.T) {
	var robotsHits int32
	srv := newTestServer(t, &robotsHits)
	src := NewWebSource(testCollectorConfig(), srv.Client(), newTestConverter(t))

	ep, err := src.Collect(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, episode.SourceWebsite, ep.SourceType)
	assert.Equal(t, srv.URL+"/page", ep.SourceURI)
	assert.Equal(t, episode.ModeNarrative, ep.InteractionMode)
	assert.Equal(t, episode.BucketMarketplaceQA, ep.Bucket)
	assert.Len(t, ep.Segments, 2)

	_, err = src.Collect(context.Background(), srv.URL+"/private/page")
	assert.ErrorIs(t, err, ErrDisallowed)

	_, err = src.Collect(context.Background(), srv.URL+"/broken")
	assert.Error(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&robotsHits))
}

func TestWebSource_CollectAllSkipsFailures(t *testing.T) {
	var robotsHits int32
	srv := newTestServer(t, &robotsHits)
	src := NewWebSource(testCollectorConfig(), srv.Client(), newTestConverter(t))

	episodes, err := src.CollectAll(context.Background(), []string{
		srv.URL + "/page",
		srv.URL + "/private/page",
		"::not a url",
	})
	require.NoError(t, err)
	assert.Len(t, episodes, 1)
}

func TestRobotCache_MissingRobotsAllows(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	rc := NewRobotCache(srv.Client())
	assert.True(t, rc.CanFetch(context.Background(), srv.URL+"/anything", "bot"))
}
