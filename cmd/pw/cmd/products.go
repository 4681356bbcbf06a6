package cmd

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

func productsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "products",
		Aliases: []string{"product", "p"},
		Short:   "Manage tracked products",
		Long: "Manage the product pages price-watch polls. Each product has a URL,\n" +
			"a polling interval and optional selector override, target price and\n" +
			"notification settings.",
	}

	root.AddCommand(
		productListCmd(),
		productGetCmd(),
		productAddCmd(),
		productEditCmd(),
		productRemoveCmd(),
		productEnableCmd(true),
		productEnableCmd(false),
		productIntervalCmd(),
		productCheckCmd(),
	)
	return root
}

func productListCmd() *cobra.Command {
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked products",
		Example: `  pw products list
  pw products list --enabled --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			products, err := newClient().ListProducts(cmd.Context(), enabledOnly)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), products)
			}
			if len(products) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No products found.")
				return nil
			}
			printProductTable(cmd.OutOrStdout(), products)
			return nil
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only list enabled products")
	return cmd
}

func productGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <id>",
		Short:   "Show product details",
		Example: `  pw products get 6f1c0c1e`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newClient().GetProduct(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), p)
			}
			printProductDetail(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

// productFlags are shared by add and edit.
type productFlags struct {
	name         string
	url          string
	rule         string
	selector     string
	selectorType string
	fetchMode    string
	interval     time.Duration
	target       string
	noNotify     bool
	disabled     bool
}

func (f *productFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "display name")
	cmd.Flags().StringVar(&f.url, "url", "", "product page URL")
	cmd.Flags().StringVar(&f.rule, "rule", "", "site rule name (default: resolve by domain)")
	cmd.Flags().StringVar(&f.selector, "selector", "", "price selector override")
	cmd.Flags().StringVar(&f.selectorType, "selector-type", "css", "selector language (css, xpath)")
	cmd.Flags().StringVar(&f.fetchMode, "mode", "", "fetch mode (auto, http, browser)")
	cmd.Flags().DurationVar(&f.interval, "interval", 0, "polling interval (default: server default)")
	cmd.Flags().StringVar(&f.target, "target", "", "target price")
	cmd.Flags().BoolVar(&f.noNotify, "no-notify", false, "do not notify on price drops")
	cmd.Flags().BoolVar(&f.disabled, "disabled", false, "create the product paused")
}

// apply copies the flags that were set on cmd onto p.
func (f *productFlags) apply(cmd *cobra.Command, p *domain.TrackedProduct) error {
	changed := cmd.Flags().Changed
	if changed("name") {
		p.Name = f.name
	}
	if changed("url") {
		p.URL = f.url
	}
	if changed("rule") {
		p.RuleName = f.rule
	}
	if changed("selector") {
		p.Selector = f.selector
		p.SelectorType = domain.SelectorType(f.selectorType)
	}
	if changed("mode") {
		p.FetchMode = domain.FetchMode(f.fetchMode)
	}
	if changed("interval") {
		p.Interval = f.interval
	}
	if changed("target") {
		if f.target == "" {
			p.TargetPrice = nil
		} else {
			d, err := decimal.NewFromString(f.target)
			if err != nil {
				return fmt.Errorf("invalid --target %q", f.target)
			}
			p.TargetPrice = &d
		}
	}
	if changed("no-notify") {
		p.NotifyOnDrop = !f.noNotify
	}
	if changed("disabled") {
		p.Enabled = !f.disabled
	}
	return nil
}

func productAddCmd() *cobra.Command {
	var f productFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Start tracking a product",
		Long: "Start tracking a product page. The first check runs right away; later\n" +
			"checks follow the polling interval.",
		Example: `  # Track a page with the default interval
  pw products add --name "Espresso machine" --url https://shop.example.com/p/123

  # Override the selector and alert below a target price
  pw products add --name "Headphones" --url https://shop.example.com/p/456 \
    --selector ".price-now" --interval 30m --target 199.99`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.url == "" {
				return fmt.Errorf("--url is required")
			}
			p := &domain.TrackedProduct{Enabled: true, NotifyOnDrop: true}
			if err := f.apply(cmd, p); err != nil {
				return err
			}
			if p.Name == "" {
				p.Name = p.URL
			}
			created, err := newClient().CreateProduct(cmd.Context(), p)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Product added: %s (%s)\n", created.Name, created.ID)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func productEditCmd() *cobra.Command {
	var f productFlags
	cmd := &cobra.Command{
		Use:     "edit <id>",
		Short:   "Change a product's settings",
		Example: `  pw products edit 6f1c0c1e --target 149 --interval 2h`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			p, err := c.GetProduct(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := f.apply(cmd, p); err != nil {
				return err
			}
			updated, err := c.UpdateProduct(cmd.Context(), p)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), updated)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Product updated: %s\n", updated.ID)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func productRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm", "delete"},
		Short:   "Stop tracking a product",
		Example: `  pw products remove 6f1c0c1e`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().DeleteProduct(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Product %s removed.\n", args[0])
			return nil
		},
	}
}

func productEnableCmd(enabled bool) *cobra.Command {
	use, short, verb := "enable <id>", "Resume polling a product", "enabled"
	if !enabled {
		use, short, verb = "disable <id>", "Pause polling a product", "disabled"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().SetProductEnabled(cmd.Context(), args[0], enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Product %s %s.\n", args[0], verb)
			return nil
		},
	}
}

func productIntervalCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "interval <id> <duration>",
		Short:   "Change a product's polling interval",
		Example: `  pw products interval 6f1c0c1e 45m`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[1])
			if err != nil {
				return fmt.Errorf("invalid interval %q: %w", args[1], err)
			}
			if err := newClient().SetProductInterval(cmd.Context(), args[0], d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Product %s now polled every %s.\n", args[0], d)
			return nil
		},
	}
}

func productCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "check <id>",
		Short:   "Check a product now",
		Example: `  pw products check 6f1c0c1e`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().CheckProduct(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), res)
			}
			printCheckResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}
