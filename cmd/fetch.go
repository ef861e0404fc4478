package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ctut-gis/atm-cli/internal/merge"
)

var fetchJSON bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Refresh the tag-only snapshot from Overpass",
	Long: "Fetches ATMs and banks and diffs them against pipeline.fetch_snapshot_path using tag addresses only. " +
		"No reverse geocoding and no district assignment; addresses and districts already in the file are kept, " +
		"and the file is rewritten only when something changed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		env, err := initPipeline(ctx, cfg, envOptions{
			mode:          merge.ModeDiff,
			skipGeocode:   true,
			skipDistricts: true,
			snapshotPath:  cfg.Pipeline.FetchSnapshot(),
		})
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Run(ctx)
		if res != nil {
			printResult(os.Stdout, res, fetchJSON)
		}
		return err
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "print the run result as JSON")
	rootCmd.AddCommand(fetchCmd)
}
