package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"marketintel/internal/config"
	"marketintel/internal/logging"
	"marketintel/internal/metrics"
	"marketintel/internal/reasoning"
	"marketintel/internal/scoring"
	"marketintel/internal/store"
	"marketintel/internal/types"
)

var (
	queryDomain   string
	querySegment  string
	queryValue    string
	queryKeywords []string
	queryFile     string

	runBudget      int
	runParallelism int
	runTimeout     time.Duration
	runOut         string
	runNoStore     bool
	metricsAddr    string
)

// runCmd gathers evidence for one startup idea
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Gather evidence for a startup idea",
	Long: `Runs the reasoning loop for a structured query and prints the evidence bundle as JSON.

The query comes from flags, a YAML/JSON query file, or both (flags win).

Examples:
  marketintel run --domain health --segment women --keywords femtech,cycle-tracking
  marketintel run --query-file idea.yaml --budget 8 --out bundle.json`,
	RunE: runAnalysisCmd,
}

func init() {
	runCmd.Flags().StringVar(&queryDomain, "domain", "", "Business domain (e.g. health, finance)")
	runCmd.Flags().StringVar(&querySegment, "segment", "", "Target segment")
	runCmd.Flags().StringVar(&queryValue, "value-prop", "", "Value proposition")
	runCmd.Flags().StringSliceVar(&queryKeywords, "keywords", nil, "Comma-separated keywords")
	runCmd.Flags().StringVar(&queryFile, "query-file", "", "YAML or JSON query file")

	runCmd.Flags().IntVar(&runBudget, "budget", 0, "Step budget (overrides config)")
	runCmd.Flags().IntVar(&runParallelism, "parallelism", -1, "Categories worked at once, 0 for all (overrides config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Run timeout (overrides config)")
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "Write the bundle to a file instead of stdout")
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "Do not persist the run")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
}

func runAnalysisCmd(cmd *cobra.Command, args []string) error {
	q, err := assembleQuery(queryFile, types.Query{
		Domain:           queryDomain,
		Segment:          querySegment,
		ValueProposition: queryValue,
		Keywords:         queryKeywords,
	})
	if err != nil {
		return err
	}

	if runBudget > 0 {
		cfg.Loop.StepBudget = runBudget
	}
	if runParallelism >= 0 {
		cfg.Loop.Parallelism = runParallelism
	}
	if runTimeout > 0 {
		cfg.Loop.RunTimeout = runTimeout.String()
	}
	if runNoStore {
		cfg.Store.Enabled = false
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	// Cancel on SIGINT/SIGTERM; in-flight tool calls get the grace period.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(promReg)
	if err != nil {
		return err
	}
	if cfg.Metrics.Addr != "" {
		stopMetrics := serveMetrics(cfg.Metrics.Addr, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}), logger)
		defer stopMetrics()
	}

	bundle, err := runAnalysis(ctx, cfg, q, logger, rec)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if runOut != "" {
		f, err := os.Create(runOut)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", runOut, err)
		}
		defer f.Close()
		w = f
	}
	return writeJSON(w, bundle)
}

// runAnalysis wires the registry, scorer, sinks and loop from configuration
// and runs one query. The bundle is persisted when the store is enabled.
func runAnalysis(ctx context.Context, c *config.Config, q types.Query, log *zap.Logger, rec *metrics.Recorder) (*types.EvidenceBundle, error) {
	boot := logging.Named(log, logging.CategoryBoot)
	reg, err := buildRegistry(c, boot, rec)
	if err != nil {
		return nil, err
	}
	boot.Info("tools registered", zap.Strings("tools", reg.Names()))

	sinks := []reasoning.CycleSink{logging.NewCycleLogger(log)}
	var st *store.Store
	if c.Store.Enabled {
		st, err = store.Open(c.Store.Path, store.WithLogger(logging.Named(log, logging.CategoryStore)))
		if err != nil {
			return nil, err
		}
		defer st.Close()
		sinks = append(sinks, st)
	}

	loop := reasoning.New(reg, scoring.New(c.ScorerConfig()), reasoning.Config{
		Categories:  c.CategorySpecs(),
		StepBudget:  c.Loop.StepBudget,
		Parallelism: c.Loop.Parallelism,
		GracePeriod: c.GetGracePeriod(),
		RunTimeout:  c.GetRunTimeout(),
	},
		reasoning.WithLogger(logging.Named(log, logging.CategoryLoop)),
		reasoning.WithSinks(sinks...),
		reasoning.WithMetrics(rec),
	)

	bundle, err := loop.Run(ctx, q)
	if err != nil {
		return nil, err
	}

	if st != nil {
		// the run context may already be cancelled; the bundle is still saved
		if err := st.SaveBundle(context.WithoutCancel(ctx), bundle); err != nil {
			log.Warn("failed to persist run", zap.String("run_id", bundle.RunID), zap.Error(err))
		}
	}
	log.Info("run complete",
		zap.String("run_id", bundle.RunID),
		zap.String("summary", bundle.Summary()),
		zap.Strings("gaps", categoryNames(bundle.Gaps())))
	return bundle, nil
}

// assembleQuery reads the query file, if any, and overlays the non-empty flag values.
func assembleQuery(path string, flags types.Query) (types.Query, error) {
	var q types.Query
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return q, fmt.Errorf("failed to read query file: %w", err)
		}
		// JSON documents are valid YAML
		if err := yaml.Unmarshal(data, &q); err != nil {
			return q, fmt.Errorf("failed to parse query file %s: %w", path, err)
		}
	}

	if flags.Domain != "" {
		q.Domain = flags.Domain
	}
	if flags.Segment != "" {
		q.Segment = flags.Segment
	}
	if flags.ValueProposition != "" {
		q.ValueProposition = flags.ValueProposition
	}
	if len(flags.Keywords) > 0 {
		q.Keywords = nil
		for _, k := range flags.Keywords {
			if k = strings.TrimSpace(k); k != "" {
				q.Keywords = append(q.Keywords, k)
			}
		}
	}

	if err := q.Validate(); err != nil {
		return q, fmt.Errorf("%w (use --domain or --query-file)", err)
	}
	return q, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func categoryNames(cats []types.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}
