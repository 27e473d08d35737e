package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oddsline/matchcore/internal/evaluation"
	"github.com/oddsline/matchcore/internal/pipeline"
)

func shadowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shadow",
		Short: "Run the shadow pipeline for one match",
		Long:  "Analyzes a single match end to end without persisting anything; the full pipeline report goes to stdout.",
		RunE:  runShadow,
	}
	cmd.Flags().String("connector", RecordedConnectorName, "Connector name")
	cmd.Flags().String("match", "", "Match id (required)")
	cmd.Flags().String("final-score", "", "Known final score as H-A, e.g. 2-1")
	cmd.Flags().Bool("dry-run", false, "Force dry run")
	_ = cmd.MarkFlagRequired("match")
	return cmd
}

func runShadow(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	connector, _ := cmd.Flags().GetString("connector")
	matchID, _ := cmd.Flags().GetString("match")
	scoreArg, _ := cmd.Flags().GetString("final-score")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	score, err := parseFinalScore(scoreArg)
	if err != nil {
		return err
	}

	rep, err := a.pipe.Run(cmd.Context(), pipeline.Request{
		ConnectorName: connector,
		MatchID:       matchID,
		FinalScore:    score,
		DryRun:        dryRun,
	})
	if err != nil {
		return err
	}
	return printJSON(rep)
}

// parseFinalScore accepts "H-A" ("2-1") or empty.
func parseFinalScore(s string) (*evaluation.FinalScore, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("final score %q: expected H-A", s)
	}
	home, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("final score %q: %w", s, err)
	}
	away, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("final score %q: %w", s, err)
	}
	if home < 0 || away < 0 {
		return nil, fmt.Errorf("final score %q: goals cannot be negative", s)
	}
	return &evaluation.FinalScore{Home: home, Away: away}, nil
}
