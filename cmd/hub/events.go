package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/client"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List stored events, newest first",
	Long: `List stored events, newest first.

--since and --until accept RFC 3339 timestamps or a duration relative to
now (e.g. 15m, 2h).`,
	GroupID: "events",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queryFromFlags(cmd, time.Now())
		if err != nil {
			return err
		}
		resp, err := hubClient.Events(cmd.Context(), q)
		if err != nil {
			return fmt.Errorf("listing events: %w", err)
		}
		if jsonOutput {
			return printJSON(resp)
		}
		if resp.Count == 0 {
			fmt.Println("No events found.")
			return nil
		}
		printEventTable(os.Stdout, resp.Events)
		fmt.Printf("\n%d events\n", resp.Count)
		return nil
	},
}

func init() {
	addFilterFlags(eventsCmd)
	eventsCmd.Flags().IntP("limit", "n", 0, "maximum events to return (server default 100)")
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("type", "t", "", "only events of this type")
	cmd.Flags().StringP("source", "s", "", "only events from this source")
	cmd.Flags().String("since", "", "only events at or after this time")
	cmd.Flags().String("until", "", "only events at or before this time")
}

func queryFromFlags(cmd *cobra.Command, now time.Time) (client.EventsQuery, error) {
	var q client.EventsQuery
	q.Type, _ = cmd.Flags().GetString("type")
	q.Source, _ = cmd.Flags().GetString("source")
	if f := cmd.Flags().Lookup("limit"); f != nil {
		q.Limit, _ = cmd.Flags().GetInt("limit")
	}
	for _, b := range []struct {
		flag string
		dst  **time.Time
	}{
		{"since", &q.Since},
		{"until", &q.Until},
	} {
		raw, _ := cmd.Flags().GetString(b.flag)
		if raw == "" {
			continue
		}
		t, err := parseTimeArg(raw, now)
		if err != nil {
			return q, fmt.Errorf("--%s: %w", b.flag, err)
		}
		*b.dst = &t
	}
	return q, nil
}

// parseTimeArg accepts an RFC 3339 timestamp or a duration before now.
func parseTimeArg(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (want RFC 3339 or a duration like 15m)", s)
	}
	if d < 0 {
		d = -d
	}
	return now.Add(-d), nil
}
