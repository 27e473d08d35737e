package main

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/oddsline/matchcore/internal/batch"
	"github.com/oddsline/matchcore/internal/reports"
)

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run the shadow pipeline over many matches",
		Long:  "Enumerates matches from the connector (or takes an explicit list), runs each through the shadow pipeline and aggregates the reports. Nothing activates here.",
		RunE:  runBatch,
	}
	cmd.Flags().String("connector", RecordedConnectorName, "Connector name")
	cmd.Flags().StringSlice("matches", nil, "Match ids (empty enumerates all)")
	cmd.Flags().Int("workers", batch.DefaultWorkers, "Worker pool size")
	cmd.Flags().Bool("dry-run", false, "Force dry run")
	return cmd
}

func runBatch(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	connector, _ := cmd.Flags().GetString("connector")
	matches, _ := cmd.Flags().GetStringSlice("matches")
	workers, _ := cmd.Flags().GetInt("workers")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	rep, err := a.runner.Run(cmd.Context(), batch.Request{
		ConnectorName: connector,
		MatchIDs:      matches,
		DryRun:        dryRun,
		Workers:       workers,
	})
	if err != nil {
		return err
	}

	if err := recordBatch(a, reports.CategoryRuns, connector, rep); err != nil {
		return err
	}
	return printJSON(rep)
}

// recordBatch writes the bundle and appends the index entry for one
// batch run under the given category.
func recordBatch(a *app, category, connector string, rep batch.Report) error {
	path, err := a.store.WriteBundle("batch_"+rep.BatchID+".json", rep)
	if err != nil {
		return err
	}
	entry := reports.NewEntry(rep.BatchID, time.Now())
	entry.ConnectorName = connector
	entry.MatchCount = len(rep.MatchIDs)
	entry.Activated = rep.ActivatedCount > 0
	entry.AlertCount = len(rep.GuardrailAlerts)
	entry.BundlePath = path
	sum, err := reports.BundleChecksum(rep)
	if err != nil {
		return err
	}
	entry.Checksum = sum
	if err := a.store.AppendEntry(category, entry); err != nil {
		return err
	}
	log.Info().Str("bundle", path).Str("category", category).Msg("batch recorded")
	return nil
}
