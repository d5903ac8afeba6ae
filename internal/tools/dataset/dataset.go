// Package dataset serves the competitors and funding categories from local
// startup and investment CSV tables.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketintel/internal/logging"
)

// slowLoadThreshold is the load time above which Load warns.
const slowLoadThreshold = 2 * time.Second

// Startup is one row of the startup table.
type Startup struct {
	Name        string
	Industry    string
	Description string
	Amount      string
	Year        string
	Row         int
}

// Investment is one row of the investment table.
type Investment struct {
	Company   string
	Round     string
	AmountUSD string
	FundedAt  string
	Investors []string
	Row       int
}

// Dataset holds both tables in memory. It is read-only after Load.
type Dataset struct {
	Startups        []Startup
	Investments     []Investment
	StartupsFile    string
	InvestmentsFile string
}

// Column headers of the source tables.
var (
	startupColumns    = []string{"Startup Name", "Industry", "Description", "Amount", "Year"}
	investmentColumns = []string{"company_name", "funding_round_type", "raised_amount_usd", "funded_at", "investor_names"}
)

// ErrMissingColumn is returned when a CSV header lacks a required column.
var ErrMissingColumn = errors.New("missing column")

// Load reads both tables from dir. A table whose file does not exist is
// replaced by the built-in sample so the tool stays usable without data.
func Load(dir, startupsFile, investmentsFile string, logger *zap.Logger) (*Dataset, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timer := logging.StartTimer(logger, "dataset load")
	defer timer.StopWithThreshold(slowLoadThreshold)

	sample := Sample()
	ds := &Dataset{StartupsFile: startupsFile, InvestmentsFile: investmentsFile}

	path := filepath.Join(dir, startupsFile)
	startups, err := readStartups(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("startup table not found, using sample", zap.String("path", path))
		ds.Startups = sample.Startups
	case err != nil:
		return nil, err
	default:
		ds.Startups = startups
	}

	path = filepath.Join(dir, investmentsFile)
	investments, err := readInvestments(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("investment table not found, using sample", zap.String("path", path))
		ds.Investments = sample.Investments
	case err != nil:
		return nil, err
	default:
		ds.Investments = investments
	}

	logger.Info("dataset loaded",
		zap.Int("startups", len(ds.Startups)),
		zap.Int("investments", len(ds.Investments)))
	return ds, nil
}

func readStartups(path string) ([]Startup, error) {
	rows, err := readTable(path, startupColumns)
	if err != nil {
		return nil, err
	}
	out := make([]Startup, 0, len(rows))
	for _, r := range rows {
		out = append(out, Startup{
			Name:        r.values[0],
			Industry:    r.values[1],
			Description: r.values[2],
			Amount:      r.values[3],
			Year:        r.values[4],
			Row:         r.line,
		})
	}
	return out, nil
}

func readInvestments(path string) ([]Investment, error) {
	rows, err := readTable(path, investmentColumns)
	if err != nil {
		return nil, err
	}
	out := make([]Investment, 0, len(rows))
	for _, r := range rows {
		out = append(out, Investment{
			Company:   r.values[0],
			Round:     r.values[1],
			AmountUSD: normalizeAmount(r.values[2]),
			FundedAt:  r.values[3],
			Investors: splitList(r.values[4]),
			Row:       r.line,
		})
	}
	return out, nil
}

type tableRow struct {
	line   int
	values []string
}

// readTable returns the requested columns of every row, in column order.
func readTable(path string, columns []string) ([]tableRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	positions := make([]int, len(columns))
	for i, col := range columns {
		pos, ok := index[col]
		if !ok {
			return nil, fmt.Errorf("%w %q in %s", ErrMissingColumn, col, path)
		}
		positions[i] = pos
	}

	var rows []tableRow
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s line %d: %w", path, line, err)
		}
		values := make([]string, len(columns))
		for i, pos := range positions {
			if pos < len(rec) {
				values[i] = strings.TrimSpace(rec[pos])
			}
		}
		rows = append(rows, tableRow{line: line, values: values})
	}
	return rows, nil
}

// normalizeAmount drops the fractional part pandas leaves on float columns.
func normalizeAmount(s string) string {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return s
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// domainKeywords expands a business domain into industry keywords.
var domainKeywords = map[string][]string{
	"health":     {"health", "healthcare", "medical", "wellness", "fitness", "menstrual", "femtech"},
	"finance":    {"finance", "fintech", "banking", "investment", "money", "payment"},
	"education":  {"education", "edtech", "learning", "teaching", "school", "course"},
	"e-commerce": {"ecommerce", "e-commerce", "retail", "shop", "store", "marketplace"},
	"social":     {"social", "community", "network", "connect", "share"},
}

// DomainKeywords returns the industry keywords a domain matches.
func DomainKeywords(domain string) []string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if kw, ok := domainKeywords[d]; ok {
		return kw
	}
	return []string{d}
}

// Competitors returns startups whose industry matches the domain. When any
// of those also mention a feature keyword in their description, only those
// are returned. At most limit rows are returned; limit <= 0 means all.
func (d *Dataset) Competitors(domain string, features []string, limit int) []Startup {
	keywords := DomainKeywords(domain)
	var matched []Startup
	for _, s := range d.Startups {
		if containsAny(strings.ToLower(s.Industry), keywords) {
			matched = append(matched, s)
		}
	}

	if len(features) > 0 {
		lowered := make([]string, len(features))
		for i, f := range features {
			lowered[i] = strings.ToLower(f)
		}
		var featured []Startup
		for _, s := range matched {
			if containsAny(strings.ToLower(s.Description), lowered) {
				featured = append(featured, s)
			}
		}
		if len(featured) > 0 {
			matched = featured
		}
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// Rounds returns the funding rounds of every company whose name contains
// one of the given names, case-insensitively, in table order.
func (d *Dataset) Rounds(companies []string) []Investment {
	lowered := make([]string, 0, len(companies))
	for _, c := range companies {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			lowered = append(lowered, c)
		}
	}
	var out []Investment
	for _, inv := range d.Investments {
		if containsAny(strings.ToLower(inv.Company), lowered) {
			out = append(out, inv)
		}
	}
	return out
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// fundedAt parses the funding date; zero when absent or malformed.
func fundedAt(s string) time.Time {
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Sample returns the built-in sample tables.
func Sample() *Dataset {
	names := []string{
		"HealthTrack", "MedConnect", "WellnessAI", "FemHealth", "FitTech",
		"FinSmart", "PayEasy", "InvestPro", "BankDigital", "MoneyWise",
		"EduLearn", "CourseHub", "SchoolDigital", "TeachTech", "LearnAI",
	}
	industries := []string{
		"Health", "Healthcare", "Wellness", "FemTech", "Fitness",
		"FinTech", "Payments", "Investments", "Banking", "Personal Finance",
		"EdTech", "Online Courses", "School Management", "Teaching Tools", "AI Learning",
	}
	descriptions := []string{
		"Health tracking app with AI features",
		"Connecting patients with doctors",
		"AI-powered wellness recommendations",
		"Women's health tracking and community",
		"Fitness tracking with social features",
		"Smart financial planning tools",
		"Easy payment solutions for businesses",
		"Investment platform for retail investors",
		"Digital banking solutions",
		"Personal finance management",
		"Online learning platform",
		"Marketplace for online courses",
		"Digital solutions for schools",
		"Tools for teachers and educators",
		"AI-powered learning assistant",
	}
	amounts := []string{
		"$2.5M", "$1.8M", "$3.2M", "$4.1M", "$1.2M",
		"$5.5M", "$2.7M", "$8.3M", "$12.5M", "$3.8M",
		"$4.2M", "$2.9M", "$1.5M", "$3.3M", "$6.7M",
	}
	years := []string{
		"2020", "2019", "2021", "2018", "2022",
		"2019", "2020", "2018", "2017", "2021",
		"2020", "2019", "2021", "2018", "2022",
	}

	ds := &Dataset{StartupsFile: "sample", InvestmentsFile: "sample"}
	for i := range names {
		ds.Startups = append(ds.Startups, Startup{
			Name: names[i], Industry: industries[i], Description: descriptions[i],
			Amount: amounts[i], Year: years[i], Row: i + 2,
		})
	}

	rounds := []struct {
		company, round, amount, date, investors string
	}{
		{"HealthTrack", "Seed", "500000", "2019-05-15", "Angel Investors"},
		{"HealthTrack", "Series A", "2000000", "2021-08-22", "Venture Fund A, Growth Capital"},
		{"MedConnect", "Seed", "750000", "2018-11-30", "Seed Fund X"},
		{"WellnessAI", "Series A", "3200000", "2021-03-10", "Tech Ventures, AI Capital"},
		{"FemHealth", "Seed", "600000", "2017-09-05", "Women Health Fund"},
		{"FemHealth", "Series A", "2500000", "2019-02-18", "Venture Fund B, Health Investors"},
		{"FemHealth", "Series B", "8000000", "2022-01-30", "Growth Fund C, Major Capital"},
		{"FitTech", "Seed", "1200000", "2020-07-12", "Fitness Angels"},
		{"FinSmart", "Seed", "800000", "2019-04-25", "Fintech Seed Fund"},
		{"PayEasy", "Series A", "2700000", "2020-10-08", "Payment Ventures, Capital X"},
	}
	for i, r := range rounds {
		ds.Investments = append(ds.Investments, Investment{
			Company: r.company, Round: r.round, AmountUSD: r.amount, FundedAt: r.date,
			Investors: splitList(r.investors), Row: i + 2,
		})
	}
	return ds
}
