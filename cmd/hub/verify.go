package main

import (
	"fmt"
	"os"

	"github.com/alfredjeanlab/eventhub/internal/ui"
	"github.com/alfredjeanlab/eventhub/internal/webhook"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Check a webhook delivery signature",
	Long: `Check the X-Signature header of a received webhook delivery.

The request body is read from the file argument, or from stdin when the
argument is omitted or "-". The exit status is non-zero when the signature
does not match. No server connection is made.`,
	Example: `  hub verify --secret s3cr3t --signature sha256=ab12... body.json`,
	GroupID: "webhooks",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		signature, _ := cmd.Flags().GetString("signature")

		path := "-"
		if len(args) == 1 {
			path = args[0]
		}
		body, err := readInput(cmd.InOrStdin(), path)
		if err != nil {
			return err
		}

		if !webhook.Verify(secret, body, signature) {
			fmt.Fprintln(os.Stderr, ui.RenderFail("signature mismatch"))
			return fmt.Errorf("invalid signature")
		}
		fmt.Println(ui.RenderOK("signature valid"))
		return nil
	},
}

func init() {
	verifyCmd.Flags().String("secret", "", "webhook secret (required)")
	verifyCmd.Flags().String("signature", "", "value of the X-Signature header (required)")
	_ = verifyCmd.MarkFlagRequired("secret")
	_ = verifyCmd.MarkFlagRequired("signature")
}
