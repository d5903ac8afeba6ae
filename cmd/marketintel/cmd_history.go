package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"marketintel/internal/logging"
	"marketintel/internal/store"
)

var (
	historyLimit int
	showCycles   bool
)

// historyCmd lists persisted runs
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List persisted runs, newest first",
	RunE:  listHistory,
}

// showCmd prints a stored bundle
var showCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Print the evidence bundle of a persisted run",
	Args:  cobra.ExactArgs(1),
	RunE:  showRun,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum runs to list, 0 for all")
	showCmd.Flags().BoolVar(&showCycles, "cycles", false, "Print the Think/Act/Observe cycles instead of the bundle")
}

func openStore() (*store.Store, error) {
	return store.Open(cfg.Store.Path, store.WithLogger(logging.Named(logger, logging.CategoryStore)))
}

func listHistory(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tDOMAIN\tRESOLVED\tSTEPS\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d/%d\t%s\t%s\n",
			r.ID, r.Domain, r.Resolved, r.Categories, r.StepsUsed, r.StepBudget,
			r.StartedAt.Local().Format(time.DateTime), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	return tw.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if showCycles {
		cycles, err := st.Cycles(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), cycles)
	}

	bundle, err := st.LoadBundle(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), bundle)
}
