package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/netmaker/internal/content"
	"github.com/zulandar/netmaker/internal/db"
	"github.com/zulandar/netmaker/internal/models"
)

func newContentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Manage generated content awaiting registration",
	}

	cmd.AddCommand(newContentAddCmd())
	cmd.AddCommand(newContentListCmd())
	return cmd
}

func newContentAddCmd() *cobra.Command {
	var (
		configPath string
		opts       content.AddOpts
		keywords   string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record an existing file as content",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Keywords = splitKeywords(keywords)
			return runContentAdd(cmd, configPath, opts)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&opts.Description, "description", "", "content description (required)")
	cmd.Flags().StringVar(&opts.FilePath, "file", "", "path to the artifact (required)")
	cmd.Flags().StringVar(&opts.DisplayName, "title", "", "display name")
	cmd.Flags().StringVar(&opts.CreatorName, "creator", "", "creator name")
	cmd.Flags().StringVar(&keywords, "keywords", "", "comma-separated keywords")
	cmd.Flags().StringVar(&opts.SeriesName, "series", "", "series name")
	cmd.MarkFlagRequired("description")
	cmd.MarkFlagRequired("file")
	return cmd
}

func runContentAdd(cmd *cobra.Command, configPath string, opts content.AddOpts) error {
	if _, err := os.Stat(opts.FilePath); err != nil {
		return fmt.Errorf("content file: %w", err)
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	item, err := content.Add(gormDB, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added content %d (%s)\n", item.ID, item.FilePath)
	return nil
}

func newContentListCmd() *cobra.Command {
	var (
		configPath string
		unclaimed  string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List content items, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContentList(cmd, configPath, unclaimed, limit)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&unclaimed, "unclaimed", "", "only items not yet registered as this kind (cascade, sense, nft)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of items")
	return cmd
}

func runContentList(cmd *cobra.Command, configPath, unclaimed string, limit int) error {
	filters := content.ListFilters{Limit: limit}
	if unclaimed != "" {
		k, err := models.ParseKind(unclaimed)
		if err != nil {
			return err
		}
		filters.UnclaimedFor = k
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	items, err := content.List(gormDB, filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "No content found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tCASCADE\tSENSE\tNFT\tTITLE")
	for _, it := range items {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", it.ID, it.FilePath,
			claim(it.CascadeTicketID), claim(it.SenseTicketID), claim(it.NFTTicketID), it.DisplayName)
	}
	w.Flush()
	return nil
}

func claim(id *uint) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprintf("#%d", *id)
}

func splitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
