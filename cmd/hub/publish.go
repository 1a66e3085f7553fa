package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alfredjeanlab/eventhub/internal/model"
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish <type>",
	Short: "Publish an event",
	Long: `Publish an event to the hub.

The payload is a JSON object given with --payload, read from a file with
--payload-file, or read from stdin with --payload-file=-.

Examples:
  hub publish user.created --source signup --payload '{"id":"u_1"}'
  hub publish order.paid -s billing -m region=eu --idempotency-key ord-77
  echo '{"id":"u_1"}' | hub publish user.created -s signup --payload-file -`,
	GroupID: "events",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		payloadArg, _ := cmd.Flags().GetString("payload")
		payloadFile, _ := cmd.Flags().GetString("payload-file")
		metaArgs, _ := cmd.Flags().GetStringArray("meta")
		key, _ := cmd.Flags().GetString("idempotency-key")

		raw := payloadArg
		if payloadFile != "" {
			data, err := readInput(cmd.InOrStdin(), payloadFile)
			if err != nil {
				return err
			}
			raw = string(data)
		}
		payload, err := parseObject(raw)
		if err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		metadata, err := parseMeta(metaArgs)
		if err != nil {
			return err
		}

		in := &model.PublishInput{
			Type:     args[0],
			Source:   source,
			Payload:  payload,
			Metadata: metadata,
		}
		event, err := hubClient.Publish(cmd.Context(), in, key)
		if err != nil {
			return fmt.Errorf("publishing event: %w", err)
		}

		if jsonOutput {
			return printJSON(event)
		}
		fmt.Printf("Published %s\n\n", event.ID)
		printEvent(event)
		return nil
	},
}

func init() {
	publishCmd.Flags().StringP("source", "s", "", "event source (required)")
	publishCmd.Flags().StringP("payload", "p", "{}", "payload as a JSON object")
	publishCmd.Flags().String("payload-file", "", "read the payload from a file (- for stdin)")
	publishCmd.Flags().StringArrayP("meta", "m", nil, "metadata key=value (repeatable)")
	publishCmd.Flags().String("idempotency-key", "", "reuse the event of an earlier publish with the same key")
	_ = publishCmd.MarkFlagRequired("source")
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// parseObject decodes s as a JSON object. Blank input is an empty object.
func parseObject(s string) (map[string]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]any{}, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return obj, nil
}

// parseMeta turns key=value pairs into metadata. A value that parses as JSON
// keeps its type, anything else is a string.
func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q (want key=value)", p)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			out[k] = decoded
		} else {
			out[k] = v
		}
	}
	return out, nil
}
