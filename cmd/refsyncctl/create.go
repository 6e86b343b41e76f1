package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <sku>",
	Short: "Create a new event instance and become its admin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		inv, err := c.CreateInstance(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("created %s, instance secret: %s\n", args[0], inv.InstanceSecret)
		return nil
	},
}
