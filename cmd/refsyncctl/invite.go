package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robosync/refsync/internal/identity"
)

var inviteAdmin bool

var inviteCmd = &cobra.Command{
	Use:   "invite <sku> <peer-id>",
	Short: "Invite a peer to an event",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		inv, err := c.Invite(context.Background(), args[0], identity.PeerId(args[1]), inviteAdmin)
		if err != nil {
			return err
		}
		fmt.Printf("invitation %s issued to %s (admin=%v)\n", inv.ID, inv.To, inv.Admin)
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <sku> <peer-id>",
	Short: "Revoke a peer's admission to an event",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		return c.Revoke(context.Background(), args[0], identity.PeerId(args[1]))
	},
}

func init() {
	inviteCmd.Flags().BoolVar(&inviteAdmin, "admin", false, "grant admin rights")
}
