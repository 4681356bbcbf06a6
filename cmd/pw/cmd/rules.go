package cmd

import (
	"github.com/spf13/cobra"

	apiclient "github.com/donaldgifford/price-watch/internal/api/client"
	"github.com/donaldgifford/price-watch/pkg/rules"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

func rulesCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rules",
		Short: "Inspect site rules and try selectors",
	}
	root.AddCommand(rulesListCmd(), rulesPreviewCmd())
	return root
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the active site rules",
		Long: "List the site rules the server is using, including strategies that\n" +
			"were promoted after repeatedly succeeding as a fallback.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := newClient().ListRules(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), rs)
			}
			printRuleTable(cmd.OutOrStdout(), rs)
			return nil
		},
	}
}

func rulesPreviewCmd() *cobra.Command {
	var req apiclient.PreviewRequest
	var kind, mode string

	cmd := &cobra.Command{
		Use:   "preview <url>",
		Short: "Fetch a page and show what a selector matches",
		Example: `  pw rules preview https://shop.example.com/p/123 --selector ".price-now"
  pw rules preview https://shop.example.com/p/123 --kind xpath --selector "//span[@itemprop='price']"
  pw rules preview https://shop.example.com/p/123 --kind jsonld --mode browser`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.URL = args[0]
			req.Kind = rules.StrategyKind(kind)
			req.FetchMode = domain.FetchMode(mode)
			res, err := newClient().Preview(cmd.Context(), &req)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), res)
			}
			printPreview(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "css", "strategy kind (css, xpath, jsonld, meta)")
	cmd.Flags().StringVar(&req.Selector, "selector", "", "selector to evaluate")
	cmd.Flags().StringVar(&req.Attr, "attr", "", "read this attribute instead of the text")
	cmd.Flags().StringVar(&mode, "mode", "", "fetch mode (auto, http, browser)")
	return cmd
}
