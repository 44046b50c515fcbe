package main

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/granthub/granthub/internal/db"
	"github.com/granthub/granthub/internal/ingest"
	"github.com/granthub/granthub/internal/models"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent ingest runs and stored record counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.RecentRuns(ctx, limit)
		if err != nil {
			return err
		}
		renderRuns(cmd.OutOrStdout(), runs)

		counts := table.NewWriter()
		counts.SetOutputMirror(cmd.OutOrStdout())
		counts.AppendHeader(table.Row{"Kind", "Records"})
		for _, k := range []models.Kind{models.KindGrant, models.KindScholarship, models.KindInternship} {
			n, err := st.Count(ctx, k)
			if err != nil {
				return err
			}
			counts.AppendRow(table.Row{k, n})
		}
		counts.Render()
		return nil
	},
}

func renderRuns(w io.Writer, runs []db.RunRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Source", "Status", "Found", "Saved", "Errors", "Duration", "Started At"})
	for _, r := range runs {
		duration := "Running..."
		if r.CompletedAt != nil {
			duration = r.Duration().Round(time.Second).String()
		}
		t.AppendRow(table.Row{r.SourceID, r.Status, r.Found, r.Saved, r.Errors, duration, r.StartedAt.Local().Format("2006-01-02 15:04:05")})
	}
	t.Render()
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List registered sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := ingest.LoadRegistry(cfg.Ingest.SourcesFile)
		if err != nil {
			return err
		}
		renderSources(cmd.OutOrStdout(), reg)
		return nil
	},
}

func renderSources(w io.Writer, reg *ingest.Registry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Kind", "Name", "Pages", "Item Cap", "List URL"})
	for _, src := range reg.Sources {
		d := ingest.DefaultTriggerParams(src)
		t.AppendRow(table.Row{src.ID, src.Kind, src.Name, d.PageCount, d.ItemCap, src.ListURL})
	}
	t.Render()
}

func init() {
	runsCmd.Flags().Int("limit", 10, "number of runs to show")
	rootCmd.AddCommand(runsCmd, sourcesCmd)
}
