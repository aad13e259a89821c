package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/netmaker/internal/db"
	"github.com/zulandar/netmaker/internal/models"
	"github.com/zulandar/netmaker/internal/ticket"
)

func newTicketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Inspect registration tickets",
	}

	cmd.AddCommand(newTicketsListCmd())
	return cmd
}

func newTicketsListCmd() *cobra.Command {
	var (
		configPath string
		kind       string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTicketsList(cmd, configPath, kind, status, limit)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (cascade, sense, nft, collection)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, success, failure)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of tickets")
	return cmd
}

func runTicketsList(cmd *cobra.Command, configPath, kind, status string, limit int) error {
	filters := ticket.ListFilters{Status: status, Limit: limit}
	if kind != "" {
		k, err := models.ParseKind(kind)
		if err != nil {
			return err
		}
		filters.Kind = k
	}
	if status != "" && !models.IsValidStatus(status) {
		return fmt.Errorf("unknown status %q", status)
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	tickets, err := ticket.List(gormDB, filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(tickets) == 0 {
		fmt.Fprintln(out, "No tickets found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATUS\tRESULT\tPOLLS\tCREATED")
	for _, t := range tickets {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
			t.ID, t.Kind, t.Status, t.ResultID, t.PollCount, t.CreatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d ticket(s)\n", len(tickets))
	return nil
}
