package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// toolsCmd lists the registered tools
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered tools with their categories, priority and reliability",
	RunE:  listTools,
}

func listTools(cmd *cobra.Command, args []string) error {
	reg, err := buildRegistry(cfg, logger, nil)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tCATEGORIES\tPRIORITY\tRELIABILITY\tTIMEOUT")
	for _, t := range reg.All() {
		cats := make([]string, len(t.Categories))
		for i, c := range t.Categories {
			cats[i] = string(c)
		}
		timeout := "-"
		if t.Timeout > 0 {
			timeout = t.Timeout.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%s\n", t.Name, strings.Join(cats, ","), t.Priority, t.Reliability, timeout)
	}
	return tw.Flush()
}
