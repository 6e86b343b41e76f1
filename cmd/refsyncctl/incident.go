package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robosync/refsync/internal/model"
)

var incidentCmd = &cobra.Command{
	Use:   "incident",
	Short: "Add, edit, or delete incidents",
}

var (
	incidentTeam    string
	incidentOutcome string
	incidentNotes   string
)

var addIncidentCmd = &cobra.Command{
	Use:   "add <sku>",
	Short: "Record a new incident",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		inc, err := c.Add(context.Background(), args[0], model.Incident{
			Team:    incidentTeam,
			Outcome: model.Outcome(incidentOutcome),
			Notes:   incidentNotes,
		})
		if err != nil {
			return err
		}
		fmt.Println(inc.ID)
		return nil
	},
}

var editIncidentCmd = &cobra.Command{
	Use:   "edit <sku> <id> <field=value>...",
	Short: "Patch fields on an existing incident",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		patch, err := parsePatch(args[2:])
		if err != nil {
			return err
		}
		inc, err := c.Edit(context.Background(), args[0], args[1], patch)
		if err != nil {
			return err
		}
		enc, _ := json.MarshalIndent(inc, "", "  ")
		fmt.Println(string(enc))
		return nil
	},
}

var deleteIncidentCmd = &cobra.Command{
	Use:   "delete <sku> <id>",
	Short: "Delete an incident",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		return c.Delete(context.Background(), args[0], args[1])
	},
}

func init() {
	addIncidentCmd.Flags().StringVar(&incidentTeam, "team", "", "team number")
	addIncidentCmd.Flags().StringVar(&incidentOutcome, "outcome", string(model.OutcomeGeneral), "General|Minor|Major|Disabled")
	addIncidentCmd.Flags().StringVar(&incidentNotes, "notes", "", "free-text notes")

	incidentCmd.AddCommand(addIncidentCmd)
	incidentCmd.AddCommand(editIncidentCmd)
	incidentCmd.AddCommand(deleteIncidentCmd)
}
