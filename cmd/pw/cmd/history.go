package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	apiclient "github.com/donaldgifford/price-watch/internal/api/client"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

func historyCmd() *cobra.Command {
	var (
		limit  int
		latest bool
	)
	cmd := &cobra.Command{
		Use:   "history <product-id>",
		Short: "Show a product's price history",
		Example: `  pw history 6f1c0c1e
  pw history 6f1c0c1e --limit 500 --output json
  pw history 6f1c0c1e --latest`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			var obs []domain.Observation
			if latest {
				o, err := c.Latest(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if o != nil {
					obs = []domain.Observation{*o}
				}
			} else {
				var err error
				obs, err = c.History(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
			}

			if jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), obs)
			}
			if len(obs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No observations yet.")
				return nil
			}
			printObservationTable(cmd.OutOrStdout(), obs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "number of newest observations to show")
	cmd.Flags().BoolVar(&latest, "latest", false, "only show the newest observation")
	return cmd
}

func eventsCmd() *cobra.Command {
	var (
		productID string
		kinds     []string
		limit     int
		offset    int
		follow    bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List price change events",
		Long: "List stored change events, newest first. With --follow, print new\n" +
			"events as the server detects them until interrupted.",
		Example: `  pw events
  pw events --product 6f1c0c1e --kind price_drop --kind back_in_stock
  pw events --follow`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient()
			out := cmd.OutOrStdout()

			if follow {
				fmt.Fprintln(cmd.ErrOrStderr(), "Waiting for events (Ctrl-C to stop)...")
				err := c.StreamEvents(cmd.Context(), productID, func(ev domain.ChangeEvent) error {
					if len(kinds) > 0 && !containsKind(kinds, ev.Kind) {
						return nil
					}
					if jsonOutput() {
						return outputJSON(out, ev)
					}
					_, err := fmt.Fprintln(out, formatEventLine(&ev))
					return err
				})
				if errors.Is(err, cmd.Context().Err()) {
					return nil
				}
				return err
			}

			f := apiclient.EventFilter{ProductID: productID, Limit: limit, Offset: offset}
			for _, k := range kinds {
				f.Kinds = append(f.Kinds, domain.ChangeKind(k))
			}
			events, err := c.ListEvents(cmd.Context(), f)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return outputJSON(out, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "No events found.")
				return nil
			}
			printEventTable(out, events)
			return nil
		},
	}
	cmd.Flags().StringVar(&productID, "product", "", "only events for this product")
	cmd.Flags().StringArrayVar(&kinds, "kind", nil,
		"only these kinds (baseline, price_drop, price_rise, back_in_stock, out_of_stock, parse_error)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "events to skip")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new events")
	return cmd
}

func containsKind(kinds []string, k domain.ChangeKind) bool {
	for _, s := range kinds {
		if domain.ChangeKind(s) == k {
			return true
		}
	}
	return false
}
