package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alfredjeanlab/eventhub/internal/client"
	"github.com/alfredjeanlab/eventhub/internal/model"
	"github.com/spf13/cobra"
)

var webhookCmd = &cobra.Command{
	Use:     "webhook",
	Aliases: []string{"webhooks", "wh"},
	Short:   "Manage webhook registrations",
	GroupID: "webhooks",
}

var webhookAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Register a webhook",
	Example: `  hub webhook add https://example.com/hook -e user.created -e user.deleted
  hub webhook add https://example.com/hook -e order.paid --secret s3cr3t`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventTypes, _ := cmd.Flags().GetStringSlice("event")
		secret, _ := cmd.Flags().GetString("secret")

		id, err := hubClient.RegisterWebhook(cmd.Context(), &client.RegisterWebhookRequest{
			URL:    args[0],
			Events: eventTypes,
			Secret: secret,
		})
		if err != nil {
			return fmt.Errorf("registering webhook: %w", err)
		}
		if jsonOutput {
			return printJSON(map[string]string{"id": id})
		}
		fmt.Printf("Registered webhook %s\n", id)
		return nil
	},
}

var webhookListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List webhooks",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hooks, err := hubClient.ListWebhooks(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing webhooks: %w", err)
		}
		if jsonOutput {
			return printJSON(hooks)
		}
		if len(hooks) == 0 {
			fmt.Println("No webhooks registered.")
			return nil
		}
		printWebhookTable(os.Stdout, hooks)
		return nil
	},
}

var webhookShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a webhook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hook, err := hubClient.GetWebhook(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("getting webhook %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(hook)
		}
		printWebhook(hook)
		return nil
	},
}

var webhookUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a webhook",
	Example: `  hub webhook update wh_abc --disable
  hub webhook update wh_abc -e user.created --secret ""`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := patchFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := hubClient.UpdateWebhook(cmd.Context(), args[0], patch); err != nil {
			return fmt.Errorf("updating webhook %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(map[string]bool{"success": true})
		}
		fmt.Printf("Updated webhook %s\n", args[0])
		return nil
	},
}

var webhookRemoveCmd = &cobra.Command{
	Use:     "rm <id>...",
	Aliases: []string{"remove", "delete"},
	Short:   "Delete webhooks",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var failed []string
		for _, id := range args {
			if err := hubClient.DeleteWebhook(cmd.Context(), id); err != nil {
				warnf("deleting %s: %v", id, err)
				failed = append(failed, id)
				continue
			}
			if !jsonOutput {
				fmt.Printf("Deleted webhook %s\n", id)
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("failed to delete %s", strings.Join(failed, ", "))
		}
		return nil
	},
}

func init() {
	webhookAddCmd.Flags().StringSliceP("event", "e", nil, "event type to deliver (repeatable, required)")
	webhookAddCmd.Flags().String("secret", "", "HMAC secret used to sign deliveries")
	_ = webhookAddCmd.MarkFlagRequired("event")

	addPatchFlags(webhookUpdateCmd)

	webhookCmd.AddCommand(webhookAddCmd)
	webhookCmd.AddCommand(webhookListCmd)
	webhookCmd.AddCommand(webhookShowCmd)
	webhookCmd.AddCommand(webhookUpdateCmd)
	webhookCmd.AddCommand(webhookRemoveCmd)
}

func addPatchFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", "", "new endpoint URL")
	cmd.Flags().StringSliceP("event", "e", nil, "replace the event types")
	cmd.Flags().String("secret", "", "replace the secret (empty string removes it)")
	cmd.Flags().Bool("enable", false, "resume deliveries")
	cmd.Flags().Bool("disable", false, "pause deliveries")
	cmd.MarkFlagsMutuallyExclusive("enable", "disable")
}

// patchFromFlags builds a patch from the flags that were set explicitly.
func patchFromFlags(cmd *cobra.Command) (*model.WebhookPatch, error) {
	var patch model.WebhookPatch
	changed := false
	if cmd.Flags().Changed("url") {
		u, _ := cmd.Flags().GetString("url")
		patch.URL = &u
		changed = true
	}
	if cmd.Flags().Changed("event") {
		ev, _ := cmd.Flags().GetStringSlice("event")
		patch.Events = &ev
		changed = true
	}
	if cmd.Flags().Changed("secret") {
		s, _ := cmd.Flags().GetString("secret")
		patch.Secret = &s
		changed = true
	}
	if cmd.Flags().Changed("enable") || cmd.Flags().Changed("disable") {
		enable, _ := cmd.Flags().GetBool("enable")
		disable, _ := cmd.Flags().GetBool("disable")
		active := enable && !disable
		patch.Active = &active
		changed = true
	}
	if !changed {
		return nil, fmt.Errorf("nothing to update: pass --url, --event, --secret, --enable or --disable")
	}
	return &patch, nil
}
