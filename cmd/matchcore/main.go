package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	appName = "matchcore"
	version = "v2.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Execute wires the command tree and runs it.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:     appName,
		Short:   "Offline-first football match decision engine",
		Version: version,
		Long: `matchcore analyzes football matches from recorded snapshots,
gates every decision through a layered activation policy, and keeps
live traffic in shadow until the drills stay clean.`,
	}

	// Accept snake_case spellings of every flag.
	root.PersistentFlags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	root.PersistentFlags().String("fixtures", "testdata/fixtures", "Recorded fixture directory")
	root.PersistentFlags().String("reports", "artifacts/reports", "Report bundle directory")
	root.PersistentFlags().String("policy", "", "Policy file (empty loads the built-in default)")
	root.PersistentFlags().String("db-config", "", "Postgres config YAML (empty disables persistence)")

	root.AddCommand(shadowCmd())
	root.AddCommand(batchCmd())
	root.AddCommand(compareCmd())
	root.AddCommand(analyzeCmd())
	root.AddCommand(activateCmd())
	root.AddCommand(serveCmd())

	return root.ExecuteContext(ctx)
}
