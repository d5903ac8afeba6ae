package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"marketintel/internal/tools"
	"marketintel/internal/types"
)

// WebSearchName is the registry id of the web search tool.
const WebSearchName = "webSearch"

// KindArticle is the record kind of search results and news items.
const KindArticle = "article"

const (
	defaultSearchEndpoint = "https://html.duckduckgo.com/html/"
	defaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	maxSearchResults      = 30
)

// categorySuffix narrows a generic search toward what a category needs.
var categorySuffix = map[types.Category]string{
	types.CategoryCompetitors: "startups competitors",
	types.CategoryFunding:     "startup funding round raised",
	types.CategoryTrends:      "market trends",
	types.CategoryNews:        "news",
	types.CategoryFinancials:  "revenue valuation",
}

// SearchResult represents a single search result.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearch searches the web through the DuckDuckGo HTML endpoint.
type WebSearch struct {
	endpoint   string
	userAgent  string
	maxResults int
	client     *http.Client
	logger     *zap.Logger
}

// WebSearchOption configures a WebSearch.
type WebSearchOption func(*WebSearch)

// WithSearchEndpoint overrides the search endpoint.
func WithSearchEndpoint(endpoint string) WebSearchOption {
	return func(w *WebSearch) {
		if endpoint != "" {
			w.endpoint = endpoint
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) WebSearchOption {
	return func(w *WebSearch) {
		if ua != "" {
			w.userAgent = ua
		}
	}
}

// WithMaxResults caps results per search, at most 30.
func WithMaxResults(n int) WebSearchOption {
	return func(w *WebSearch) {
		if n > 0 {
			w.maxResults = min(n, maxSearchResults)
		}
	}
}

// WithSearchClient sets the HTTP client.
func WithSearchClient(c *http.Client) WebSearchOption {
	return func(w *WebSearch) {
		if c != nil {
			w.client = c
		}
	}
}

// WithSearchLogger sets the logger.
func WithSearchLogger(l *zap.Logger) WebSearchOption {
	return func(w *WebSearch) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWebSearch creates a web search tool.
func NewWebSearch(opts ...WebSearchOption) *WebSearch {
	w := &WebSearch{
		endpoint:   defaultSearchEndpoint,
		userAgent:  defaultUserAgent,
		maxResults: 10,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Tool returns the registry definition. Web search is the generic last
// resort and serves every category.
func (w *WebSearch) Tool() *tools.Tool {
	return &tools.Tool{
		Name:        WebSearchName,
		Description: "Search the web for information using DuckDuckGo",
		Categories:  types.DefaultCategories(),
		Invoke:      w.Invoke,
		Priority:    10,
		Reliability: 0.5,
		Schema: tools.ToolSchema{
			Required: []string{"domain"},
			Properties: map[string]tools.Property{
				"domain":   {Type: "string", Description: "Business domain"},
				"segment":  {Type: "string", Description: "Target segment"},
				"keywords": {Type: "string", Description: "Comma-separated keywords"},
			},
		},
	}
}

// Invoke searches for the step's category and returns one article per result.
func (w *WebSearch) Invoke(ctx context.Context, step types.ActionStep) ([]types.Record, error) {
	query := searchTerms(step.Param("domain"), step.Param("segment"), step.ListParam("keywords"), categorySuffix[step.Category])
	w.logger.Debug("web search", zap.String("query", query), zap.Int("max_results", w.maxResults))

	results, err := w.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	records := make([]types.Record, 0, len(results))
	for _, r := range results {
		records = append(records, types.Record{
			Key:  r.URL,
			Kind: KindArticle,
			Fields: map[string]string{
				"title":   r.Title,
				"url":     r.URL,
				"snippet": r.Snippet,
				"source":  hostOf(r.URL),
			},
			Citation: r.URL,
		})
	}
	w.logger.Debug("web search completed", zap.String("query", query), zap.Int("results", len(records)))
	return records, nil
}

// Search performs a search using the DuckDuckGo HTML interface.
func (w *WebSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	searchURL := w.endpoint + "?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", w.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpFailure(resp)
	}

	return parseDuckDuckGoResults(io.LimitReader(resp.Body, 1<<20), w.maxResults)
}

// parseDuckDuckGoResults extracts search results from DuckDuckGo HTML.
func parseDuckDuckGoResults(r io.Reader, maxResults int) ([]SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, tools.Fail(types.FailureMalformedResponse, fmt.Errorf("failed to parse HTML: %w", err))
	}

	var results []SearchResult
	doc.Find("div.result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find("a.result__a").First()
		href, _ := link.Attr("href")
		result := SearchResult{
			Title:   collapseSpace(link.Text()),
			URL:     cleanRedirect(href),
			Snippet: collapseSpace(s.Find(".result__snippet").First().Text()),
		}
		if result.URL != "" && result.Title != "" {
			results = append(results, result)
		}
		return len(results) < maxResults
	})
	return results, nil
}

// cleanRedirect unwraps DuckDuckGo's //duckduckgo.com/l/?uddg= redirect links.
func cleanRedirect(href string) string {
	if !strings.Contains(href, "duckduckgo.com/l/") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

// httpFailure classifies a non-200 response. Throttling and server errors
// mean the source is unavailable; anything else is an unexpected response.
func httpFailure(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 ||
		resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
		return tools.Fail(types.FailureUnavailable, err)
	}
	return tools.Fail(types.FailureMalformedResponse, err)
}
