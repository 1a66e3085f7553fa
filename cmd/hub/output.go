package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/model"
	"github.com/alfredjeanlab/eventhub/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printEvent(e *model.Event) {
	fmt.Printf("ID:        %s\n", ui.RenderID(e.ID))
	fmt.Printf("Type:      %s\n", ui.RenderEventType(e.Type))
	fmt.Printf("Source:    %s\n", e.Source)
	fmt.Printf("Timestamp: %s\n", e.Timestamp.Local().Format(timeLayout))
	if len(e.Payload) > 0 {
		fmt.Printf("Payload:   %s\n", compactJSON(e.Payload))
	}
	if len(e.Metadata) > 0 {
		fmt.Printf("Metadata:  %s\n", compactJSON(e.Metadata))
	}
}

func printEventTable(w io.Writer, events []*model.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSOURCE\tTIMESTAMP\tPAYLOAD")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.Type,
			e.Source,
			e.Timestamp.Local().Format(timeLayout),
			truncate(compactJSON(e.Payload), 50),
		)
	}
	tw.Flush()
}

func printWebhook(v *model.WebhookView) {
	fmt.Printf("ID:             %s\n", ui.RenderID(v.ID))
	fmt.Printf("URL:            %s\n", v.URL)
	fmt.Printf("Events:         %s\n", strings.Join(v.Events, ", "))
	fmt.Printf("Active:         %s\n", activeLabel(v.Active))
	fmt.Printf("Signed:         %t\n", v.HasSecret)
	fmt.Printf("Created At:     %s\n", v.CreatedAt.Local().Format(timeLayout))
	if v.UpdatedAt != nil {
		fmt.Printf("Updated At:     %s\n", v.UpdatedAt.Local().Format(timeLayout))
	}
	if v.LastTriggeredAt != nil {
		fmt.Printf("Last Triggered: %s\n", v.LastTriggeredAt.Local().Format(timeLayout))
	}
}

func printWebhookTable(w io.Writer, hooks []*model.WebhookView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACTIVE\tEVENTS\tURL\tLAST TRIGGERED")
	for _, h := range hooks {
		last := "-"
		if h.LastTriggeredAt != nil {
			last = h.LastTriggeredAt.Local().Format(timeLayout)
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n",
			h.ID,
			h.Active,
			truncate(strings.Join(h.Events, ","), 40),
			h.URL,
			last,
		)
	}
	tw.Flush()
}

// formatStreamEvent renders one live event as a single line.
func formatStreamEvent(e *model.Event) string {
	return fmt.Sprintf("%s %s %s %s %s",
		ui.RenderMuted(e.Timestamp.Local().Format(time.TimeOnly)),
		ui.RenderEventType(e.Type),
		ui.RenderID(e.ID),
		e.Source,
		compactJSON(e.Payload),
	)
}

func activeLabel(active bool) string {
	if active {
		return ui.RenderOK("yes")
	}
	return ui.RenderFail("no")
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "?"
	}
	return string(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}
