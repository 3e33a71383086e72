package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nlpgrid/nlp-service/internal/database"
	"github.com/nlpgrid/nlp-service/internal/webhooks"
)

var (
	webhookURL         string
	webhookEvents      []string
	webhookDescription string
)

// webhookCmd groups webhook administration
var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage webhook subscribers",
}

var webhookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered webhooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := database.NewWebhookStore(database.Pool()).List(context.Background())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tURL\tEVENTS\tACTIVE\tFAILURES")
		for _, wh := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\n",
				wh.ID, wh.URL, strings.Join(wh.Events, ","), wh.IsActive, wh.FailureCount)
		}
		return w.Flush()
	},
}

var webhookCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a webhook",
	Long: `Register a webhook subscriber. The signing secret is generated here
and printed exactly once; store it, it cannot be recovered later.`,
	Example: `  nlp-service webhook create --url https://example.com/hook --events task.completed,batch.completed`,
	RunE:    runWebhookCreate,
}

var webhookDeleteCmd = &cobra.Command{
	Use:   "delete <webhook-id>",
	Short: "Delete a webhook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return database.NewWebhookStore(database.Pool()).Delete(context.Background(), args[0])
	},
}

var webhookReactivateCmd = &cobra.Command{
	Use:   "reactivate <webhook-id>",
	Short: "Re-enable a webhook deactivated by delivery failures",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := database.NewWebhookStore(database.Pool())
		if err := store.Reactivate(context.Background(), args[0]); err != nil {
			return err
		}
		wh, err := store.Get(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(wh)
	},
}

func init() {
	rootCmd.AddCommand(webhookCmd)
	webhookCmd.AddCommand(webhookListCmd)
	webhookCmd.AddCommand(webhookCreateCmd)
	webhookCmd.AddCommand(webhookDeleteCmd)
	webhookCmd.AddCommand(webhookReactivateCmd)

	webhookCreateCmd.Flags().StringVar(&webhookURL, "url", "", "Delivery URL (required)")
	webhookCreateCmd.Flags().StringSliceVar(&webhookEvents, "events", nil, "Subscribed events, comma separated (required)")
	webhookCreateCmd.Flags().StringVar(&webhookDescription, "description", "", "Free-form description")
	webhookCreateCmd.MarkFlagRequired("url")
	webhookCreateCmd.MarkFlagRequired("events")
}

func runWebhookCreate(cmd *cobra.Command, args []string) error {
	if err := webhooks.ValidateURL(webhookURL); err != nil {
		return err
	}

	secret, err := webhooks.GenerateSecret()
	if err != nil {
		return err
	}

	var description *string
	if webhookDescription != "" {
		description = &webhookDescription
	}

	wh, err := database.NewWebhookStore(database.Pool()).Create(
		context.Background(), webhookURL, webhookEvents, description, secret)
	if err != nil {
		return err
	}

	fmt.Printf("Webhook created: %s\n", wh.ID)
	fmt.Printf("Signing secret (shown once): %s\n", secret)
	return nil
}
