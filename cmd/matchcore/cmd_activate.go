package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/oddsline/matchcore/internal/activation"
	"github.com/oddsline/matchcore/internal/batch"
	"github.com/oddsline/matchcore/internal/reports"
)

func activateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Run a batch with activation requested",
		Long: `Runs the approval gate, then a batch where eligible PLAY decisions
may persist. Denied approval halts before any match is touched; every
other failure is recorded per match and the batch continues.`,
		RunE: runActivate,
	}
	cmd.Flags().String("connector", RecordedConnectorName, "Connector name")
	cmd.Flags().StringSlice("matches", nil, "Match ids (empty enumerates all)")
	cmd.Flags().Int("workers", batch.DefaultWorkers, "Worker pool size")
	cmd.Flags().String("approval-token", "", "Operator approval token")
	cmd.Flags().String("policy-pin", "", "Exact active policy version")
	cmd.Flags().Bool("audit-trail", false, "Confirm an external audit trail exists")
	cmd.Flags().Bool("dry-run", false, "Evaluate gates without persisting")
	return cmd
}

func runActivate(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	connector, _ := cmd.Flags().GetString("connector")
	matches, _ := cmd.Flags().GetStringSlice("matches")
	workers, _ := cmd.Flags().GetInt("workers")
	token, _ := cmd.Flags().GetString("approval-token")
	policyPin, _ := cmd.Flags().GetString("policy-pin")
	auditTrail, _ := cmd.Flags().GetBool("audit-trail")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	ix, err := a.store.ReadIndex()
	if err != nil {
		return err
	}
	// The only halting condition in the whole flow.
	if err := activation.Approve(a.cfg, activation.ApprovalRequest{
		Token:             token,
		PolicyVersionPin:  policyPin,
		AuditTrailEnabled: auditTrail,
	}, ix, a.pol.Meta.Version, log.Logger); err != nil {
		return err
	}

	rep, err := a.runner.Run(cmd.Context(), batch.Request{
		ConnectorName: connector,
		MatchIDs:      matches,
		Activation:    true,
		DryRun:        dryRun,
		Workers:       workers,
	})
	if err != nil {
		return err
	}

	category := reports.CategoryActivationRuns
	if a.cfg.Mode == activation.ModeBurnIn {
		category = reports.CategoryBurnInOpsRuns
	}
	if err := recordBatch(a, category, connector, rep); err != nil {
		return err
	}
	return printJSON(rep)
}
