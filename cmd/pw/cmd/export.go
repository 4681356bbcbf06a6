package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	apiclient "github.com/donaldgifford/price-watch/internal/api/client"
	"github.com/donaldgifford/price-watch/internal/export"
)

// resolveFormat picks the --format flag when set, otherwise the file
// extension.
func resolveFormat(flag, path string) (export.Format, error) {
	if flag != "" {
		return export.ParseFormat(flag)
	}
	return export.FormatFromPath(path)
}

// openOutput returns stdout for "-" and a created file otherwise.
func openOutput(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopCloser{cmd.OutOrStdout()}, nil
	}
	return os.Create(path) //nolint:gosec // path is supplied by the user
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func exportCmd() *cobra.Command {
	var format string
	root := &cobra.Command{
		Use:   "export",
		Short: "Export products or price history to CSV or JSON",
		Long: "Export tracked products or a product's price history. The format\n" +
			"comes from --format or the file extension; use - to write to stdout.",
	}
	root.PersistentFlags().StringVar(&format, "format", "", "csv or json (default: from file extension)")

	products := &cobra.Command{
		Use:     "products <file>",
		Short:   "Export all tracked products",
		Example: `  pw export products products.csv
  pw export products - --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := resolveFormat(format, args[0])
			if err != nil {
				return err
			}
			list, err := newClient().ListProducts(cmd.Context(), false)
			if err != nil {
				return err
			}
			out, err := openOutput(cmd, args[0])
			if err != nil {
				return err
			}
			if err := export.WriteProducts(out, f, list); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			if args[0] != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d products to %s\n", len(list), args[0])
			}
			return nil
		},
	}

	var limit int
	history := &cobra.Command{
		Use:     "history <product-id> <file>",
		Short:   "Export a product's price history",
		Example: `  pw export history 6f1c0c1e history.csv --limit 10000`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := resolveFormat(format, args[1])
			if err != nil {
				return err
			}
			c := newClient()
			p, err := c.GetProduct(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			obs, err := c.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			out, err := openOutput(cmd, args[1])
			if err != nil {
				return err
			}
			if err := export.WriteHistory(out, f, p, obs); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			if args[1] != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d observations to %s\n", len(obs), args[1])
			}
			return nil
		},
	}
	history.Flags().IntVar(&limit, "limit", 1000, "number of newest observations to export")

	root.AddCommand(products, history)
	return root
}

func importCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import products from CSV or JSON",
		Long: "Create a tracked product for every row of an exported file. Rows whose\n" +
			"URL is already tracked are skipped. Invalid rows are reported and the\n" +
			"rest are still imported.",
		Example: `  pw import products.csv
  pw import legacy.json --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := resolveFormat(format, args[0])
			if err != nil {
				return err
			}
			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			list, readErr := export.ReadProducts(in, f)
			if readErr != nil && len(list) == 0 {
				return readErr
			}

			c := newClient()
			errs := []error{readErr}
			var created, skipped int
			for i := range list {
				p := &list[i]
				p.ID = ""
				if _, err := c.CreateProduct(cmd.Context(), p); err != nil {
					if apiclient.IsConflict(err) {
						skipped++
						continue
					}
					errs = append(errs, fmt.Errorf("%s: %w", p.URL, err))
					continue
				}
				created++
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d products, skipped %d already tracked.\n", created, skipped)
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "csv or json (default: from file extension)")
	return cmd
}
