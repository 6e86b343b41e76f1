package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var acceptCmd = &cobra.Command{
	Use:   "accept <sku> <invitation-id>",
	Short: "Accept a pending invitation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		inv, err := c.Accept(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("accepted, admitted to %s (admin=%v)\n", inv.SKU, inv.Admin)
		return nil
	},
}
