package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/voc-classifier/internal/model"
	"github.com/sells-group/voc-classifier/internal/taxonomy"
)

var categoriesRefresh bool

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the consulting categories used for classification",
	RunE: func(cmd *cobra.Command, args []string) error {
		cache := initTaxonomy()

		var (
			categories []model.Category
			err        error
		)
		if categoriesRefresh {
			categories, err = cache.Refresh(cmd.Context())
		} else {
			categories, err = cache.Categories(cmd.Context())
		}
		if err != nil {
			return err
		}
		return writeCategories(cmd.OutOrStdout(), categories, cache.Stats())
	},
}

func writeCategories(w io.Writer, categories []model.Category, stats taxonomy.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, c := range categories {
		fmt.Fprintf(tw, "%s\t%s\n", c.ID, c.Name)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d categories, fetched %s\n", stats.Count, stats.FetchedAt.Format(time.RFC3339))
	return err
}

func init() {
	categoriesCmd.Flags().BoolVar(&categoriesRefresh, "refresh", false, "bypass the cache and fetch from the source")
	rootCmd.AddCommand(categoriesCmd)
}
