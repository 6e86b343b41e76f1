package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <sku>",
	Short: "Export an event's incidents as CSV or JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		switch exportFormat {
		case "csv":
			raw, err := c.FetchCSV(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(raw)
			return err
		case "json":
			incidents, err := c.Incidents(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(incidents)
		default:
			return fmt.Errorf("unknown export format %q (want csv or json)", exportFormat)
		}
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "csv or json")
}
