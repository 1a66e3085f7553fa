package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/client"
	"github.com/alfredjeanlab/eventhub/internal/ui"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live events",
	Long: `Stream live events as they are published.

Only events published after the stream opens are shown. Use "hub events"
for history.`,
	GroupID: "events",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queryFromFlags(cmd, time.Now())
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetInt("count")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		err = hubClient.Watch(ctx, q, watchPrinter(count))
		if errors.Is(err, errWatchDone) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var errWatchDone = errors.New("watch: count reached")

func init() {
	addFilterFlags(watchCmd)
	watchCmd.Flags().Int("count", 0, "exit after this many events (0 = run until interrupted)")
}

// watchPrinter returns a frame callback that prints events and stops after
// count of them when count is positive.
func watchPrinter(count int) func(client.StreamFrame) error {
	seen := 0
	return func(f client.StreamFrame) error {
		switch f.Type {
		case "connected":
			if !jsonOutput {
				fmt.Fprintln(os.Stderr, ui.RenderMuted("Connected. Waiting for events..."))
			}
			return nil
		case "event":
			if f.Event == nil {
				return nil
			}
		default:
			return nil
		}
		if jsonOutput {
			fmt.Println(compactJSON(f.Event))
		} else {
			fmt.Println(formatStreamEvent(f.Event))
		}
		seen++
		if count > 0 && seen >= count {
			return errWatchDone
		}
		return nil
	}
}
