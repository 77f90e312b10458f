package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/">
<channel>
  <title>Actualités</title>
  <link>http://example.com/</link>
  <item>
    <title>Accord de paix historique</title>
    <link>http://example.com/1</link>
    <pubDate>Mon, 10 Mar 2025 10:00:00 GMT</pubDate>
    <description><![CDATA[<p>Les deux pays <b>signent</b> un accord.</p>]]></description>
    <content:encoded><![CDATA[<div><p>Premier paragraphe.</p><p>Second paragraphe.</p></div>]]></content:encoded>
  </item>
  <item>
    <title></title>
    <guid>http://example.com/2</guid>
    <description>Sans titre mais avec un lien</description>
  </item>
  <item>
    <description>Ni titre ni lien</description>
  </item>
  <item>
    <title>Sans date</title>
    <link>http://example.com/3</link>
  </item>
</channel>
</rss>`

func rssWithItems(n int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<item><title>Item %d</title><link>http://example.com/%d</link></item>", i, i)
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestRSSFetcherParsesItems(t *testing.T) {
	agents := make(chan string, 1)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, sampleRSS)
	})

	items, err := NewRSSFetcher(Config{UserAgent: "test-agent"}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "test-agent", <-agents)

	first := items[0]
	assert.Equal(t, "Accord de paix historique", first.Title)
	assert.Equal(t, "http://example.com/1", first.Link)
	assert.Equal(t, time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC), first.PublishedAt)
	assert.Equal(t, "Les deux pays signent un accord.", first.Summary)
	assert.Equal(t, "Premier paragraphe. Second paragraphe.", first.Content)
	assert.Contains(t, first.RawContentEncoded, "<p>Premier paragraphe.</p>")

	assert.Equal(t, "", items[1].Title)
	assert.Equal(t, "http://example.com/2", items[1].Link)

	assert.Equal(t, "Sans date", items[2].Title)
	assert.True(t, items[2].PublishedAt.IsZero())
}

func TestRSSFetcherCapsItems(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssWithItems(50))
	})

	items, err := NewRSSFetcher(Config{MaxItems: 7}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, items, 7)

	items, err = NewRSSFetcher(Config{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, items, DefaultMaxItems)
}

func TestRSSFetcherErrors(t *testing.T) {
	notFound := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	garbage := serve(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "this is not a feed")
	})
	var loop *httptest.Server
	loop = serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, loop.URL+"/again", http.StatusFound)
	})
	slow := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})

	tests := []struct {
		name string
		url  string
		cfg  Config
		op   string
	}{
		{"non 200 status", notFound.URL, Config{}, OpStatus},
		{"unparseable body", garbage.URL, Config{}, OpParse},
		{"redirect loop", loop.URL, Config{MaxRedirects: 2}, OpRequest},
		{"timeout", slow.URL, Config{Timeout: 100 * time.Millisecond}, OpRequest},
		{"bad url", "://nope", Config{}, OpRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := NewRSSFetcher(tt.cfg).Fetch(context.Background(), tt.url)
			assert.Empty(t, items)

			var fe *FetchError
			require.True(t, errors.As(err, &fe), "got %v", err)
			assert.Equal(t, tt.op, fe.Op)
			assert.Equal(t, tt.url, fe.URL)
			assert.NotNil(t, errors.Unwrap(err))
		})
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain   text\n here", "plain text here"},
		{"<p>Un</p><p>Deux</p>", "Un Deux"},
		{"a &amp; b", "a & b"},
		{"<script>alert(1)</script>Visible", "Visible"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripHTML(tt.in), tt.in)
	}
}

type stubFetcher struct {
	items []RawItem
	err   error
}

func (s stubFetcher) Fetch(context.Context, string) ([]RawItem, error) {
	return s.items, s.err
}

func TestEnricherFillsShortContent(t *testing.T) {
	paragraph := "Les négociations se sont poursuivies toute la nuit entre les délégations, " +
		"qui ont fini par trouver un terrain d'entente sur les points les plus sensibles du texte. "
	page := "<html><head><title>Accord</title></head><body><article><h1>Accord</h1>" +
		"<p>" + strings.Repeat(paragraph, 4) + "</p><p>" + strings.Repeat(paragraph, 4) + "</p>" +
		"</article></body></html>"
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	})

	next := stubFetcher{items: []RawItem{
		{Title: "court", Link: srv.URL + "/a", Content: "bref"},
		{Title: "long", Link: srv.URL + "/b", Content: strings.Repeat("x", 300)},
		{Title: "sans lien", Content: "bref"},
	}}

	items, err := NewEnricher(next, "", WithMinContent(200)).Fetch(context.Background(), "feed")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Contains(t, items[0].Content, "terrain d'entente")
	assert.Equal(t, strings.Repeat("x", 300), items[1].Content)
	assert.Equal(t, "bref", items[2].Content)
}

func TestEnricherKeepsItemsOnPageFailure(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	next := stubFetcher{items: []RawItem{{Title: "t", Link: srv.URL, Content: "bref"}}}
	items, err := NewEnricher(next, "").Fetch(context.Background(), "feed")
	require.NoError(t, err)
	assert.Equal(t, "bref", items[0].Content)
}

func TestEnricherResolvesRelativeLinks(t *testing.T) {
	paragraph := "La conférence de presse a détaillé les mesures prévues pour les prochains mois. "
	var requested atomic.Value
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		requested.Store(r.URL.Path)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><article><p>"+strings.Repeat(paragraph, 8)+"</p></article></body></html>")
	})

	next := stubFetcher{items: []RawItem{{Title: "relatif", Link: "/articles/42", Content: "bref"}}}
	items, err := NewEnricher(next, "").Fetch(context.Background(), srv.URL+"/rss.xml")
	require.NoError(t, err)
	assert.Equal(t, "/articles/42", requested.Load())
	assert.Contains(t, items[0].Content, "conférence de presse")
	assert.Equal(t, "/articles/42", items[0].Link)
}

func TestEnricherCapsRedirects(t *testing.T) {
	var hits atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "/loop", http.StatusFound)
	})

	next := stubFetcher{items: []RawItem{{Title: "boucle", Link: srv.URL + "/start", Content: "bref"}}}
	items, err := NewEnricher(next, "", WithMaxRedirects(2)).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "bref", items[0].Content)
	assert.Equal(t, int32(3), hits.Load())
}

func TestEnricherPropagatesFetchError(t *testing.T) {
	fe := &FetchError{URL: "feed", Op: OpStatus, Err: errors.New("boom")}
	_, err := NewEnricher(stubFetcher{err: fe}, "").Fetch(context.Background(), "feed")
	assert.ErrorIs(t, err, fe)
}

func TestNormalizingFetcherWrapsErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewNormalizingFetcher(NormalizingConfig{}).Fetch(context.Background(), url)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, url, fe.URL)
}
