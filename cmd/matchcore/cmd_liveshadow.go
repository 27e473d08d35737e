package main

import (
	"github.com/spf13/cobra"

	"github.com/oddsline/matchcore/internal/liveshadow"
)

func compareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Live-shadow compare of raw payloads",
		Long:  "Fetches each match from the live and recorded connectors and reports identity parity, odds drift and schema drift. Writes happen only with LIVE_WRITES_ALLOWED.",
		RunE:  runCompare,
	}
	liveShadowFlags(cmd)
	return cmd
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Live-shadow analyze of decisions",
		Long:  "Runs the analyzer once per side per match and diffs pick parity, confidence and reasons. Database persistence is always blocked in this mode.",
		RunE:  runAnalyze,
	}
	liveShadowFlags(cmd)
	return cmd
}

func liveShadowFlags(cmd *cobra.Command) {
	cmd.Flags().String("live", StubLiveConnectorName, "Live connector name")
	cmd.Flags().String("recorded", RecordedConnectorName, "Recorded connector name")
	cmd.Flags().StringSlice("matches", nil, "Match ids (empty enumerates the recorded side)")
}

func liveShadowRequest(cmd *cobra.Command) liveshadow.CompareRequest {
	live, _ := cmd.Flags().GetString("live")
	recorded, _ := cmd.Flags().GetString("recorded")
	matches, _ := cmd.Flags().GetStringSlice("matches")
	return liveshadow.CompareRequest{
		LiveConnector:     live,
		RecordedConnector: recorded,
		MatchIDs:          matches,
	}
}

func runCompare(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	rep, err := a.comparer().Compare(cmd.Context(), liveShadowRequest(cmd))
	if err != nil {
		return err
	}
	return printJSON(rep)
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	rep, err := a.shadowAnalyzer().Analyze(cmd.Context(), liveShadowRequest(cmd))
	if err != nil {
		return err
	}
	return printJSON(rep)
}
