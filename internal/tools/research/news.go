package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"marketintel/internal/tools"
	"marketintel/internal/types"
)

// NewsName is the registry id of the news tool.
const NewsName = "newsFeed"

const defaultNewsEndpoint = "https://news.google.com/rss/search"

// News searches a Google News style RSS endpoint.
type News struct {
	endpoint string
	language string
	region   string
	maxItems int
	client   *http.Client
	logger   *zap.Logger
}

// NewsConfig configures the news tool. Zero values take defaults.
type NewsConfig struct {
	Endpoint string
	Language string
	Region   string
	MaxItems int
	Client   *http.Client
	Logger   *zap.Logger
}

// NewNews creates a news tool.
func NewNews(cfg NewsConfig) *News {
	n := &News{
		endpoint: cfg.Endpoint,
		language: cfg.Language,
		region:   cfg.Region,
		maxItems: cfg.MaxItems,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}
	if n.endpoint == "" {
		n.endpoint = defaultNewsEndpoint
	}
	if n.language == "" {
		n.language = "en-US"
	}
	if n.region == "" {
		n.region = "US"
	}
	if n.maxItems <= 0 {
		n.maxItems = 10
	}
	if n.client == nil {
		n.client = &http.Client{Timeout: 30 * time.Second}
	}
	if n.logger == nil {
		n.logger = zap.NewNop()
	}
	return n
}

// Tool returns the registry definition.
func (n *News) Tool() *tools.Tool {
	return &tools.Tool{
		Name:        NewsName,
		Description: "Search recent news articles through an RSS news search",
		Categories:  []types.Category{types.CategoryNews, types.CategoryTrends},
		Invoke:      n.Invoke,
		Priority:    70,
		Reliability: 0.7,
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

// Invoke fetches the feed for the step and returns one article per item.
// Items carry their publish time so stale news scores lower.
func (n *News) Invoke(ctx context.Context, step types.ActionStep) ([]types.Record, error) {
	suffix := "startup"
	if step.Category == types.CategoryTrends {
		suffix = "market trends"
	}
	query := searchTerms(step.Param("domain"), step.Param("segment"), step.ListParam("keywords"), suffix)

	feed, err := n.fetch(ctx, query)
	if err != nil {
		return nil, err
	}

	records := make([]types.Record, 0, n.maxItems)
	for _, item := range feed.Items {
		if len(records) >= n.maxItems {
			break
		}
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}
		rec := types.Record{
			Key:  link,
			Kind: KindArticle,
			Fields: map[string]string{
				"title":   collapseSpace(item.Title),
				"url":     link,
				"snippet": textContent(item.Description),
				"source":  itemSource(item, feed),
			},
			Citation: link,
		}
		if pub := published(item); !pub.IsZero() {
			rec.Timestamp = pub
			rec.Fields["published"] = pub.UTC().Format(time.RFC3339)
		}
		records = append(records, rec)
	}

	n.logger.Debug("news search completed", zap.String("query", query), zap.Int("items", len(records)))
	return records, nil
}

func (n *News) fetch(ctx context.Context, query string) (*gofeed.Feed, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("hl", n.language)
	params.Set("gl", n.region)
	params.Set("ceid", n.region+":"+strings.SplitN(n.language, "-", 2)[0])

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpFailure(resp)
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, tools.Fail(types.FailureMalformedResponse, fmt.Errorf("failed to parse feed: %w", err))
	}
	return feed, nil
}

func published(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

// itemSource names the publisher by link host, falling back to the feed
// title for aggregator redirect links.
func itemSource(item *gofeed.Item, feed *gofeed.Feed) string {
	if h := hostOf(item.Link); h != "" && h != "news.google.com" {
		return h
	}
	return collapseSpace(feed.Title)
}
