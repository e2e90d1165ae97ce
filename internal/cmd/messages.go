package cmd

import (
	"github.com/spf13/cobra"

	"github.com/LeventeLantos/social-dispatch/internal/api"
	"github.com/LeventeLantos/social-dispatch/internal/client"
)

func newCreateCmd(opts *options) *cobra.Command {
	var req api.CreateRequest

	c := &cobra.Command{
		Use:   "create",
		Short: "Create a draft message, optionally sending it right away",
		Example: `  dispatchctl create --platform whatsapp --recipient +15551234567 --content "hello"
  dispatchctl create --platform instagram --recipient 1784 --type media --media-url https://x/y.jpg --send`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := opts.client().Create(cmd.Context(), req)
			return printResult(cmd, res, err)
		},
	}

	f := c.Flags()
	f.StringVar(&req.Platform, "platform", "", `Platform: "whatsapp", "facebook" or "instagram"`)
	f.StringVar(&req.Recipient, "recipient", "", "Recipient phone number or scoped id")
	f.StringVar(&req.MessageType, "type", "text", `Message type: "text", "media" or "template"`)
	f.StringVar(&req.Content, "content", "", "Text body of a text message")
	f.StringVar(&req.MediaURL, "media-url", "", "Public URL of the media to attach")
	f.StringVar(&req.TemplateName, "template", "", "WhatsApp template name")
	f.StringVar(&req.TemplateLanguage, "language", "", "WhatsApp template language code")
	f.StringSliceVar(&req.TemplateParams, "param", nil, "Template body parameter, repeatable")
	f.BoolVar(&req.SendImmediately, "send", false, "Send right after creating")
	_ = c.MarkFlagRequired("platform")
	_ = c.MarkFlagRequired("recipient")

	return c
}

func newSendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "send <message-id>",
		Short: "Send a draft message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Send(cmd.Context(), args[0])
			return printResult(cmd, res, err)
		},
	}
}

func newRetryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <message-id>",
		Short: "Retry a failed message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Retry(cmd.Context(), args[0])
			return printResult(cmd, res, err)
		},
	}
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <message-id>",
		Short: "Show one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.client().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	var lo client.ListOptions

	c := &cobra.Command{
		Use:   "list",
		Short: "List messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := opts.client().List(cmd.Context(), lo)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), items)
		},
	}

	f := c.Flags()
	f.StringVar(&lo.Platform, "platform", "", "Filter by platform")
	f.StringVar(&lo.Status, "status", "", `Filter by status: "draft", "sending", "sent" or "failed"`)
	f.StringVar(&lo.Recipient, "recipient", "", "Filter by recipient")
	f.IntVar(&lo.Limit, "limit", 0, "Maximum number of messages")
	f.IntVar(&lo.Offset, "offset", 0, "Number of messages to skip")

	return c
}

func newTestConnectionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "test-connection <platform>",
		Short:     "Check the configured credentials of a platform",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"whatsapp", "facebook", "instagram"},
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().TestConnection(cmd.Context(), args[0])
			return printResult(cmd, res, err)
		},
	}
}
