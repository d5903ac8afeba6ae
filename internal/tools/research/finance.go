package research

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketintel/internal/tools"
	"marketintel/internal/types"
)

// FinanceName is the registry id of the finance tool.
const FinanceName = "yahooFinance"

// KindQuote is the record kind of market quotes.
const KindQuote = "quote"

const (
	defaultFinanceSearch = "https://query2.finance.yahoo.com/v1/finance/search"
	defaultFinanceChart  = "https://query1.finance.yahoo.com/v8/finance/chart/"
)

// FinanceConfig configures the finance tool. Zero values take defaults.
type FinanceConfig struct {
	SearchEndpoint string
	ChartEndpoint  string
	MaxSymbols     int
	UserAgent      string
	Client         *http.Client
	Logger         *zap.Logger
}

// Finance resolves company names to listed symbols and returns their quotes.
type Finance struct {
	cfg FinanceConfig
}

// NewFinance creates a finance tool.
func NewFinance(cfg FinanceConfig) *Finance {
	if cfg.SearchEndpoint == "" {
		cfg.SearchEndpoint = defaultFinanceSearch
	}
	if cfg.ChartEndpoint == "" {
		cfg.ChartEndpoint = defaultFinanceChart
	}
	if !strings.HasSuffix(cfg.ChartEndpoint, "/") {
		cfg.ChartEndpoint += "/"
	}
	if cfg.MaxSymbols <= 0 {
		cfg.MaxSymbols = 5
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 20 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Finance{cfg: cfg}
}

// Tool returns the registry definition.
func (f *Finance) Tool() *tools.Tool {
	return &tools.Tool{
		Name:        FinanceName,
		Description: "Fetch market quotes for listed competitors from Yahoo Finance",
		Categories:  []types.Category{types.CategoryFinancials},
		Invoke:      f.Invoke,
		Priority:    90,
		Reliability: 0.85,
		Schema: tools.ToolSchema{
			Required: []string{"domain"},
			Properties: map[string]tools.Property{
				"domain":      {Type: "string", Description: "Business domain, searched when no competitors are known"},
				"competitors": {Type: "string", Description: "Comma-separated company names to resolve to symbols"},
			},
		},
	}
}

// Quote is the subset of chart metadata the tool reports.
type Quote struct {
	Symbol        string
	Name          string
	Currency      string
	Exchange      string
	Price         float64
	PreviousClose float64
	MarketTime    time.Time
}

// Invoke resolves symbols for the known competitors, or for the domain when
// none are known, and returns one quote record per symbol. Symbols whose
// chart cannot be fetched are skipped; the last error is returned only when
// no quote was obtained.
func (f *Finance) Invoke(ctx context.Context, step types.ActionStep) ([]types.Record, error) {
	names := step.ListParam("competitors")
	if len(names) == 0 {
		names = []string{searchTerms(step.Param("domain"), "", step.ListParam("keywords"), "")}
	}

	symbols, err := f.resolve(ctx, names)
	if err != nil {
		return nil, err
	}

	var records []types.Record
	var lastErr error
	for _, sym := range symbols {
		q, err := f.Quote(ctx, sym.symbol)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.cfg.Logger.Debug("quote failed", zap.String("symbol", sym.symbol), zap.Error(err))
			lastErr = err
			continue
		}
		if q.Name == "" {
			q.Name = sym.name
		}
		records = append(records, quoteRecord(q, f.cfg.ChartEndpoint))
	}
	if len(records) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return records, nil
}

type symbolMatch struct {
	symbol string
	name   string
}

// resolve maps names to equity symbols, at most MaxSymbols, without duplicates.
func (f *Finance) resolve(ctx context.Context, names []string) ([]symbolMatch, error) {
	seen := make(map[string]bool)
	var out []symbolMatch
	var lastErr error
	for _, name := range names {
		if len(out) >= f.cfg.MaxSymbols {
			break
		}
		matches, err := f.Search(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		for _, m := range matches {
			if len(out) >= f.cfg.MaxSymbols {
				break
			}
			if seen[m.symbol] {
				continue
			}
			seen[m.symbol] = true
			out = append(out, m)
			if len(names) > 1 {
				// one symbol per named company
				break
			}
		}
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

type searchResponse struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		ShortName string `json:"shortname"`
		LongName  string `json:"longname"`
		QuoteType string `json:"quoteType"`
	} `json:"quotes"`
}

// Search returns the equity symbols matching a free-text name.
func (f *Finance) Search(ctx context.Context, name string) ([]symbolMatch, error) {
	params := url.Values{}
	params.Set("q", name)
	params.Set("quotesCount", strconv.Itoa(f.cfg.MaxSymbols))
	params.Set("newsCount", "0")

	var resp searchResponse
	if err := f.getJSON(ctx, f.cfg.SearchEndpoint+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	var out []symbolMatch
	for _, q := range resp.Quotes {
		if q.Symbol == "" || (q.QuoteType != "" && q.QuoteType != "EQUITY") {
			continue
		}
		n := q.LongName
		if n == "" {
			n = q.ShortName
		}
		out = append(out, symbolMatch{symbol: q.Symbol, name: n})
	}
	return out, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				ExchangeName       string  `json:"exchangeName"`
				FullExchangeName   string  `json:"fullExchangeName"`
				LongName           string  `json:"longName"`
				ShortName          string  `json:"shortName"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				PreviousClose      float64 `json:"previousClose"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Quote fetches the latest daily quote of a symbol.
func (f *Finance) Quote(ctx context.Context, symbol string) (Quote, error) {
	var resp chartResponse
	endpoint := f.cfg.ChartEndpoint + url.PathEscape(symbol) + "?range=1d&interval=1d"
	if err := f.getJSON(ctx, endpoint, &resp); err != nil {
		return Quote{}, err
	}
	if e := resp.Chart.Error; e != nil {
		return Quote{}, tools.Failf(types.FailureUnavailable, "chart %s: %s: %s", symbol, e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return Quote{}, tools.Failf(types.FailureMalformedResponse, "chart %s: no result", symbol)
	}

	m := resp.Chart.Result[0].Meta
	q := Quote{
		Symbol:        m.Symbol,
		Name:          m.LongName,
		Currency:      m.Currency,
		Exchange:      m.FullExchangeName,
		Price:         m.RegularMarketPrice,
		PreviousClose: m.PreviousClose,
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	if q.Name == "" {
		q.Name = m.ShortName
	}
	if q.Exchange == "" {
		q.Exchange = m.ExchangeName
	}
	if q.PreviousClose == 0 {
		q.PreviousClose = m.ChartPreviousClose
	}
	if m.RegularMarketTime > 0 {
		q.MarketTime = time.Unix(m.RegularMarketTime, 0).UTC()
	}
	return q, nil
}

func (f *Finance) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("finance request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpFailure(resp)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 2<<20)).Decode(out); err != nil {
		return tools.Fail(types.FailureMalformedResponse, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func quoteRecord(q Quote, chartEndpoint string) types.Record {
	fields := map[string]string{
		"symbol":   q.Symbol,
		"name":     q.Name,
		"currency": q.Currency,
		"exchange": q.Exchange,
	}
	if q.Price != 0 {
		fields["price"] = strconv.FormatFloat(q.Price, 'f', -1, 64)
	}
	if q.PreviousClose != 0 {
		fields["previous_close"] = strconv.FormatFloat(q.PreviousClose, 'f', -1, 64)
	}
	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}
	return types.Record{
		Key:       q.Symbol,
		Kind:      KindQuote,
		Fields:    fields,
		Citation:  chartEndpoint + q.Symbol,
		Timestamp: q.MarketTime,
	}
}
