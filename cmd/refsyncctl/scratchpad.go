package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robosync/refsync/internal/model"
)

var (
	scratchpadDivision uint32
	scratchpadMatch    string
)

var scratchpadCmd = &cobra.Command{
	Use:   "scratchpad <sku> <field=value>...",
	Short: "Patch the scratchpad for a match, creating it if absent",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		sku := args[0]
		patch, err := parsePatch(args[1:])
		if err != nil {
			return err
		}
		id := model.ScratchpadID(sku, scratchpadDivision, scratchpadMatch)
		seed := model.Scratchpad{EventSKU: sku, GameTag: scratchpadMatch}

		pad, err := c.UpdateScratchpad(context.Background(), sku, id, seed, patch)
		if err != nil {
			return err
		}
		enc, _ := json.MarshalIndent(pad, "", "  ")
		fmt.Println(string(enc))
		return nil
	},
}

func init() {
	scratchpadCmd.Flags().Uint32Var(&scratchpadDivision, "division", 0, "match division")
	scratchpadCmd.Flags().StringVar(&scratchpadMatch, "match", "", "match/game tag")
}
