package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/robosync/refsync/internal/model"
	"github.com/robosync/refsync/internal/wire"
)

var (
	colorAccent = lipgloss.Color("39")
	colorMuted  = lipgloss.Color("243")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	borderStyle = lipgloss.NewStyle().Foreground(colorMuted)
)

var statusCmd = &cobra.Command{
	Use:   "status <sku>",
	Short: "Show active users, invitations, and incidents for an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		frame, err := c.FetchSnapshot(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("fetch snapshot: %w", err)
		}

		fmt.Printf("event %s\n\n", args[0])
		fmt.Println(usersTable(frame.ActiveUsers))
		fmt.Println()
		fmt.Println(invitationsTable(frame.Invitations))
		fmt.Println()
		fmt.Println(incidentsTable(frame.Data))
		return nil
	},
}

func newTable() *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

func usersTable(users []wire.ActiveUser) *table.Table {
	t := newTable().Headers("ID", "NAME")
	for _, u := range users {
		t.Row(string(u.ID), u.Name)
	}
	return t
}

func invitationsTable(invitations []wire.InvitationView) *table.Table {
	t := newTable().Headers("ID", "TO", "ADMIN", "ACCEPTED")
	for _, inv := range invitations {
		t.Row(inv.ID, string(inv.To), fmt.Sprintf("%v", inv.Admin), fmt.Sprintf("%v", inv.Accepted))
	}
	return t
}

func incidentsTable(incidents []*model.Incident) *table.Table {
	sorted := make([]*model.Incident, len(incidents))
	copy(sorted, incidents)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	t := newTable().Headers("ID", "TEAM", "OUTCOME", "NOTES")
	for _, inc := range sorted {
		t.Row(inc.ID, inc.Team, string(inc.Outcome), inc.Notes)
	}
	return t
}
