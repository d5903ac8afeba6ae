package research

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bluele/gcache"

	"marketintel/internal/tools"
	"marketintel/internal/types"
)

// =============================================================================
// WEB SEARCH
// =============================================================================

const ddgPage = `<html><body>
<div class="result results_links results_links_deep web-result">
  <h2 class="result__title">
    <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.example.com%2Ffemtech&amp;rut=abc">FemTech <b>market</b> map</a>
  </h2>
  <a class="result__snippet" href="#">Top femtech   startups in 2026</a>
</div>
<div class="result results_links web-result">
  <a class="result__a" href="https://blog.example.org/funding">Funding roundup</a>
</div>
<div class="result results_links web-result">
  <a class="result__a" href="https://third.example.net/">Third</a>
</div>
<div class="result result--ad"><span>no link here</span></div>
</body></html>`

func TestWebSearchParsesResults(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		io.WriteString(w, ddgPage)
	}))
	defer srv.Close()

	ws := NewWebSearch(WithSearchEndpoint(srv.URL), WithSearchClient(srv.Client()), WithMaxResults(2))
	records, err := ws.Invoke(context.Background(), types.ActionStep{
		Category: types.CategoryCompetitors,
		Params:   map[string]string{"domain": "health", "segment": "women", "keywords": "femtech"},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if gotQuery != "women health femtech startups competitors" {
		t.Errorf("unexpected query %q", gotQuery)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	if first.Key != "https://www.example.com/femtech" {
		t.Errorf("redirect not unwrapped: %q", first.Key)
	}
	if first.Fields["title"] != "FemTech market map" {
		t.Errorf("title %q", first.Fields["title"])
	}
	if first.Fields["snippet"] != "Top femtech startups in 2026" {
		t.Errorf("snippet %q", first.Fields["snippet"])
	}
	if first.Fields["source"] != "example.com" {
		t.Errorf("source %q", first.Fields["source"])
	}
	if first.Kind != KindArticle || first.Citation != first.Key {
		t.Errorf("unexpected record %+v", first)
	}
	if _, ok := records[1].Fields["snippet"]; !ok {
		t.Error("missing snippet should still be present as an empty field")
	}
}

func TestWebSearchStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   types.FailureKind
	}{
		{http.StatusTooManyRequests, types.FailureUnavailable},
		{http.StatusBadGateway, types.FailureUnavailable},
		{http.StatusBadRequest, types.FailureMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			ws := NewWebSearch(WithSearchEndpoint(srv.URL), WithSearchClient(srv.Client()))
			_, err := ws.Invoke(context.Background(), types.ActionStep{Params: map[string]string{"domain": "x"}})
			if got := tools.KindOf(err); got != tt.want {
				t.Errorf("got %q, want %q (err=%v)", got, tt.want, err)
			}
		})
	}
}

func TestCleanRedirect(t *testing.T) {
	t.Parallel()

	if got := cleanRedirect("https://plain.example/"); got != "https://plain.example/" {
		t.Errorf("plain link rewritten: %q", got)
	}
	if got := cleanRedirect("//duckduckgo.com/l/?uddg=https%3A%2F%2Fa.example%2Fb%3Fc%3D1&rut=x"); got != "https://a.example/b?c=1" {
		t.Errorf("got %q", got)
	}
}

// =============================================================================
// NEWS
// =============================================================================

const newsFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>"femtech" - Google News</title>
<item>
  <title>FemHealth raises  Series B</title>
  <link>https://techcrunch.com/femhealth</link>
  <pubDate>Mon, 02 Mar 2026 10:00:00 GMT</pubDate>
  <description>&lt;a href="https://techcrunch.com/femhealth"&gt;FemHealth&lt;/a&gt; raises &lt;b&gt;$8M&lt;/b&gt;</description>
</item>
<item><title>No link</title></item>
<item>
  <title>Undated piece</title>
  <link>https://news.google.com/articles/abc</link>
</item>
</channel></rss>`

func TestNewsParsesFeed(t *testing.T) {
	t.Parallel()

	var params map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		params = map[string]string{"q": q.Get("q"), "hl": q.Get("hl"), "ceid": q.Get("ceid")}
		w.Header().Set("Content-Type", "application/rss+xml")
		io.WriteString(w, newsFeed)
	}))
	defer srv.Close()

	n := NewNews(NewsConfig{Endpoint: srv.URL, Client: srv.Client()})
	records, err := n.Invoke(context.Background(), types.ActionStep{
		Category: types.CategoryTrends,
		Params:   map[string]string{"domain": "health", "keywords": "femtech"},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if params["q"] != "health femtech market trends" || params["hl"] != "en-US" || params["ceid"] != "US:en" {
		t.Errorf("unexpected request params %v", params)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	dated := records[0]
	if dated.Fields["title"] != "FemHealth raises Series B" {
		t.Errorf("title %q", dated.Fields["title"])
	}
	if s := dated.Fields["snippet"]; !strings.Contains(s, "raises") || strings.Contains(s, "<b>") {
		t.Errorf("snippet not cleaned: %q", s)
	}
	if dated.Fields["source"] != "techcrunch.com" {
		t.Errorf("source %q", dated.Fields["source"])
	}
	if !dated.Timestamp.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp %v", dated.Timestamp)
	}
	if dated.Fields["published"] != "2026-03-02T10:00:00Z" {
		t.Errorf("published %q", dated.Fields["published"])
	}

	undated := records[1]
	if !undated.Timestamp.IsZero() {
		t.Error("undated item should have a zero timestamp")
	}
	if _, ok := undated.Fields["published"]; ok {
		t.Error("undated item should not carry a published field")
	}
	if undated.Fields["source"] != `"femtech" - Google News` {
		t.Errorf("aggregator link should fall back to feed title, got %q", undated.Fields["source"])
	}
}

func TestNewsMalformedFeed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "this is not a feed")
	}))
	defer srv.Close()

	n := NewNews(NewsConfig{Endpoint: srv.URL, Client: srv.Client()})
	_, err := n.Invoke(context.Background(), types.ActionStep{Params: map[string]string{"domain": "x"}})
	if got := tools.KindOf(err); got != types.FailureMalformedResponse {
		t.Errorf("got %q (err=%v)", got, err)
	}
}

func TestTextContent(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"plain  text\n":                        "plain text",
		"<p>Hello <b>world</b></p>":            "Hello world",
		"a &amp; b":                            "a & b",
		"<script>x()</script><span>kept</span>": "kept",
	}
	for in, want := range tests {
		if got := textContent(in); got != want {
			t.Errorf("textContent(%q) = %q, want %q", in, got, want)
		}
	}
}

// =============================================================================
// FINANCE
// =============================================================================

func financeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/finance/search", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("q") {
		case "FemHealth":
			io.WriteString(w, `{"quotes":[
				{"symbol":"FEMH","shortname":"FemHealth","longname":"FemHealth Inc","quoteType":"EQUITY"},
				{"symbol":"FEMH2","shortname":"FemHealth Two","quoteType":"EQUITY"}]}`)
		case "PayEasy":
			io.WriteString(w, `{"quotes":[{"symbol":"FEMX","quoteType":"ETF"},{"symbol":"PAYE","shortname":"PayEasy","quoteType":"EQUITY"}]}`)
		case "Broken":
			io.WriteString(w, `{"quotes":[{"symbol":"BRKN","quoteType":"EQUITY"}]}`)
		default:
			io.WriteString(w, `{"quotes":[]}`)
		}
	})
	mux.HandleFunc("/v8/finance/chart/", func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/v8/finance/chart/") {
		case "FEMH":
			io.WriteString(w, `{"chart":{"result":[{"meta":{"symbol":"FEMH","currency":"USD",
				"fullExchangeName":"NasdaqGS","regularMarketPrice":12.5,"previousClose":12.1,
				"regularMarketTime":1772445600}}],"error":null}}`)
		case "BRKN":
			io.WriteString(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`)
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestFinance(srv *httptest.Server) *Finance {
	return NewFinance(FinanceConfig{
		SearchEndpoint: srv.URL + "/v1/finance/search",
		ChartEndpoint:  srv.URL + "/v8/finance/chart",
		Client:         srv.Client(),
	})
}

func TestFinanceQuotesCompetitors(t *testing.T) {
	t.Parallel()

	f := newTestFinance(financeServer(t))
	records, err := f.Invoke(context.Background(), types.ActionStep{
		Category: types.CategoryFinancials,
		Params:   map[string]string{"domain": "health", "competitors": "FemHealth,PayEasy"},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	// PAYE has no chart and is skipped; FEMH2 is not taken because each
	// named company resolves to one symbol.
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d: %+v", len(records), records)
	}

	rec := records[0]
	want := map[string]string{
		"symbol":         "FEMH",
		"name":           "FemHealth Inc",
		"currency":       "USD",
		"exchange":       "NasdaqGS",
		"price":          "12.5",
		"previous_close": "12.1",
	}
	for k, v := range want {
		if rec.Fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, rec.Fields[k], v)
		}
	}
	if rec.Key != "FEMH" || rec.Kind != KindQuote {
		t.Errorf("unexpected record %+v", rec)
	}
	if !rec.Timestamp.Equal(time.Unix(1772445600, 0)) {
		t.Errorf("timestamp %v", rec.Timestamp)
	}
	if !strings.HasSuffix(rec.Citation, "/v8/finance/chart/FEMH") {
		t.Errorf("citation %q", rec.Citation)
	}
}

func TestFinanceDomainSearchTakesSeveralSymbols(t *testing.T) {
	t.Parallel()

	f := newTestFinance(financeServer(t))
	syms, err := f.resolve(context.Background(), []string{"FemHealth"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(syms) != 2 {
		t.Errorf("a single search term should yield every equity match, got %v", syms)
	}
}

func TestFinanceFailures(t *testing.T) {
	t.Parallel()

	f := newTestFinance(financeServer(t))

	records, err := f.Invoke(context.Background(), types.ActionStep{
		Params: map[string]string{"domain": "health", "competitors": "Nobody"},
	})
	if err != nil || len(records) != 0 {
		t.Errorf("no symbols should yield no records and no error, got %v, %v", records, err)
	}

	_, err = f.Invoke(context.Background(), types.ActionStep{
		Params: map[string]string{"domain": "health", "competitors": "Broken"},
	})
	if got := tools.KindOf(err); got != types.FailureUnavailable {
		t.Errorf("chart error should be unavailable, got %q (err=%v)", got, err)
	}
}

// =============================================================================
// CACHE
// =============================================================================

func TestCachedMemoisesSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var fail atomic.Bool
	base := &tools.Tool{
		Name: "counting",
		Invoke: func(ctx context.Context, step types.ActionStep) ([]types.Record, error) {
			calls.Add(1)
			if fail.Load() {
				return nil, errors.New("down")
			}
			return []types.Record{{Key: "k", Fields: map[string]string{"v": "1"}}}, nil
		},
	}
	clock := gcache.NewFakeClock()
	cached := Cached(base, CacheOptions{Size: 4, TTL: time.Minute, Clock: clock})

	step := types.ActionStep{Seq: 1, Category: types.CategoryNews, Params: map[string]string{"domain": "health"}}
	first, err := cached.Invoke(context.Background(), step)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	first[0].Fields["v"] = "mutated"

	step.Seq, step.Attempt = 7, 2
	second, _ := cached.Invoke(context.Background(), step)
	if calls.Load() != 1 {
		t.Errorf("expected a cache hit, inner called %d times", calls.Load())
	}
	if second[0].Fields["v"] != "1" {
		t.Error("cached records must not share maps with returned records")
	}

	other := types.ActionStep{Category: types.CategoryTrends, Params: step.Params}
	cached.Invoke(context.Background(), other)
	if calls.Load() != 2 {
		t.Errorf("different category should miss, inner called %d times", calls.Load())
	}

	clock.Advance(2 * time.Minute)
	fail.Store(true)
	if _, err := cached.Invoke(context.Background(), step); err == nil {
		t.Error("expired entry should reach the failing source")
	}
	if _, err := cached.Invoke(context.Background(), step); err == nil {
		t.Error("failures must not be cached")
	}
	if calls.Load() != 4 {
		t.Errorf("expected 4 inner calls, got %d", calls.Load())
	}
	if cached.Name != "counting" || cached == base {
		t.Error("Cached must return a copy of the tool definition")
	}
}

func TestToolsRespectsEnabled(t *testing.T) {
	t.Parallel()

	got := Tools(Config{Enabled: func(name string) bool { return name != NewsName }})
	if len(got) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(got))
	}
	for _, tool := range got {
		if tool.Name == NewsName {
			t.Error("disabled tool was built")
		}
	}

	reg := tools.NewRegistry()
	if err := RegisterAll(reg, Config{Cache: &CacheOptions{}}); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	if reg.Count() != 3 {
		t.Errorf("expected 3 registered tools, got %d", reg.Count())
	}
	if names := reg.Eligible(types.CategoryFinancials); len(names) != 2 || names[0] != FinanceName {
		t.Errorf("financials escalation order %v", names)
	}
}
