package dataset

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"marketintel/internal/tools"
	"marketintel/internal/types"
)

// ToolName is the registry id of the dataset lookup tool.
const ToolName = "datasetLookup"

// Record kinds produced by the lookup.
const (
	KindCompetitor   = types.KindCompetitor
	KindFundingRound = "funding_round"
)

// DefaultMaxResults caps competitor rows per invocation.
const DefaultMaxResults = 5

// Lookup serves the competitors and funding categories from a Dataset.
type Lookup struct {
	ds         *Dataset
	maxResults int
	logger     *zap.Logger
}

// NewLookup creates a lookup over ds.
func NewLookup(ds *Dataset, maxResults int, logger *zap.Logger) *Lookup {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lookup{ds: ds, maxResults: maxResults, logger: logger}
}

// Tool returns the registry definition of the lookup.
func (l *Lookup) Tool() *tools.Tool {
	return &tools.Tool{
		Name:        ToolName,
		Description: "Look up competitors and funding rounds in the local startup and investment tables",
		Categories:  []types.Category{types.CategoryCompetitors, types.CategoryFunding},
		Invoke:      l.Invoke,
		Priority:    100,
		Reliability: 0.9,
		Schema: tools.ToolSchema{
			Required: []string{"domain"},
			Properties: map[string]tools.Property{
				"domain":      {Type: "string", Description: "Business domain, expanded to industry keywords"},
				"keywords":    {Type: "string", Description: "Comma-separated feature keywords matched against descriptions"},
				"competitors": {Type: "string", Description: "Comma-separated company names for funding lookups"},
			},
		},
	}
}

// Invoke answers one step. Funding steps look up the companies named in the
// "competitors" parameter, or the domain's competitors when none are given.
func (l *Lookup) Invoke(ctx context.Context, step types.ActionStep) ([]types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch step.Category {
	case types.CategoryCompetitors:
		return l.competitors(step), nil
	case types.CategoryFunding:
		return l.funding(step), nil
	default:
		return nil, tools.Failf(types.FailureUnavailable, "%s does not serve category %s", ToolName, step.Category)
	}
}

func (l *Lookup) competitors(step types.ActionStep) []types.Record {
	matches := l.ds.Competitors(step.Param("domain"), step.ListParam("keywords"), l.maxResults)
	records := make([]types.Record, 0, len(matches))
	for _, s := range matches {
		records = append(records, types.Record{
			Key:  s.Name,
			Kind: KindCompetitor,
			Fields: compact(map[string]string{
				"name":        s.Name,
				"industry":    s.Industry,
				"description": s.Description,
				"funding":     s.Amount,
				"year":        s.Year,
			}),
			Citation: fmt.Sprintf("dataset:%s#%d", l.ds.StartupsFile, s.Row),
		})
	}
	l.logger.Debug("competitor lookup",
		zap.String("domain", step.Param("domain")),
		zap.Int("matches", len(records)))
	return records
}

func (l *Lookup) funding(step types.ActionStep) []types.Record {
	companies := step.ListParam("competitors")
	if len(companies) == 0 {
		for _, s := range l.ds.Competitors(step.Param("domain"), step.ListParam("keywords"), l.maxResults) {
			companies = append(companies, s.Name)
		}
	}

	rounds := l.ds.Rounds(companies)
	records := make([]types.Record, 0, len(rounds))
	for _, r := range rounds {
		records = append(records, types.Record{
			Key:  r.Company + "|" + r.Round,
			Kind: KindFundingRound,
			Fields: compact(map[string]string{
				"company":    r.Company,
				"round":      r.Round,
				"amount_usd": r.AmountUSD,
				"date":       r.FundedAt,
				"investors":  strings.Join(r.Investors, ", "),
			}),
			Citation:  fmt.Sprintf("dataset:%s#%d", l.ds.InvestmentsFile, r.Row),
			Timestamp: fundedAt(r.FundedAt),
		})
	}
	l.logger.Debug("funding lookup",
		zap.Strings("companies", companies),
		zap.Int("rounds", len(records)))
	return records
}

// compact drops empty fields so completeness reflects what the row holds.
func compact(fields map[string]string) map[string]string {
	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}
	return fields
}
