package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// codeCmd mints or resolves short admission codes, for referees to read
// aloud instead of spelling out a full peer id over the radio.
var codeCmd = &cobra.Command{
	Use:   "code",
	Short: "Request or resolve a short admission code",
}

var requestCodeCmd = &cobra.Command{
	Use:   "request <sku>",
	Short: "Request a short admission code for the local peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		code, err := c.RequestCode(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(code)
		return nil
	},
}

var resolveCodeCmd = &cobra.Command{
	Use:   "resolve <sku> <code>",
	Short: "Resolve a code to the peer id that requested it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		peer, err := c.ResolveCode(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(peer)
		return nil
	},
}

func init() {
	codeCmd.AddCommand(requestCodeCmd)
	codeCmd.AddCommand(resolveCodeCmd)
}
