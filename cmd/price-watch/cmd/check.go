package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/donaldgifford/price-watch/internal/engine"
)

func checkCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "check [product-id...]",
		Short: "Check products once without starting the server",
		Long: "Run the price pipeline once for the given products, or for every enabled\n" +
			"product with --all. Observations and change events are stored as usual\n" +
			"and pending alerts go out with the next alert run of the server.",
		Example: `  price-watch check 6f1c0c1e-0b7e-4f0e-9d1a-4a3b2c1d0e9f
  price-watch check --all --config config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("give at least one product id or --all")
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ids := args
			if all {
				products, err := a.engine.Products(ctx, true)
				if err != nil {
					return fmt.Errorf("listing products: %w", err)
				}
				ids = make([]string, len(products))
				for i := range products {
					ids[i] = products[i].ID
				}
			}

			results := make([]*engine.CheckResult, 0, len(ids))
			for _, id := range ids {
				res, err := a.engine.CheckNow(ctx, id)
				if err != nil {
					res = &engine.CheckResult{ProductID: id, Outcome: "error", Error: err.Error()}
				}
				results = append(results, res)
				if ctx.Err() != nil {
					break
				}
			}
			printCheckResults(results)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "check every enabled product")
	return cmd
}

func init() {
	rootCmd.AddCommand(checkCommand())
}

func printCheckResults(results []*engine.CheckResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Product", "Outcome", "Price", "Availability", "Event", "Error"})
	for _, r := range results {
		price, avail, event := "-", "-", "-"
		if r.Observation != nil {
			price = r.Observation.Amount.StringFixed(2) + " " + r.Observation.Currency
			avail = string(r.Observation.Availability)
		}
		if r.Event != nil {
			event = string(r.Event.Kind)
		}
		t.AppendRow(table.Row{r.ProductID, r.Outcome, price, avail, event, r.Error})
	}
	t.Render()
}
