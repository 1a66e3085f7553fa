package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the hub",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := hubClient.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			if err := printJSON(map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Printf("Health: %s\n", status)
		}

		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show live stream subscription counts",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := hubClient.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		if jsonOutput {
			return printJSON(st)
		}
		fmt.Printf("Subscriptions: %d\n", st.SubscriptionCount)
		if len(st.CountsByTypeFilter) == 0 {
			return nil
		}
		keys := make([]string, 0, len(st.CountsByTypeFilter))
		for k := range st.CountsByTypeFilter {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE FILTER\tSUBSCRIPTIONS")
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%d\n", k, st.CountsByTypeFilter[k])
		}
		w.Flush()
		return nil
	},
}
