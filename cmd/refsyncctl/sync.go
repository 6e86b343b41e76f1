package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <sku>",
	Short: "Force a GET /get reconcile against the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := c.ForceSync(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Println("synced")
		return nil
	},
}
