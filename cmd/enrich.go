package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ctut-gis/atm-cli/internal/merge"
	"github.com/ctut-gis/atm-cli/internal/pipeline"
)

var (
	enrichMode      string
	enrichNoGeocode bool
	enrichJSON      bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run one enrichment pass and update the snapshot",
	Long: "Fetches ATMs and banks from Overpass, fills addresses from tags and Nominatim, " +
		"assigns districts and merges the result into the snapshot using --mode (diff, append or overwrite).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("enrich"); err != nil {
			return err
		}
		mode, err := resolveMode(enrichMode, cfg.Pipeline.Mode)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, cfg, envOptions{mode: mode, skipGeocode: enrichNoGeocode})
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Run(ctx)
		if res != nil {
			printResult(os.Stdout, res, enrichJSON)
		}
		return err
	},
}

// resolveMode prefers the flag value over the configured mode.
func resolveMode(flag, configured string) (merge.Mode, error) {
	if flag != "" {
		return merge.ParseMode(flag)
	}
	return merge.ParseMode(configured)
}

// printResult writes a run summary, as JSON when asJSON is set.
func printResult(w io.Writer, res *pipeline.Result, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
		return
	}

	_, _ = fmt.Fprintf(w, "mode=%s fetched=%d points=%d tags=%d geocoded=%d fallback=%d districts=%d\n",
		res.Mode, res.Fetched, res.Normalized, res.AddressFromTags,
		res.GeocodeResolved, res.GeocodeFallback, res.Districts)
	switch res.Mode {
	case merge.ModeAppend:
		_, _ = fmt.Fprintf(w, "appended=%d", res.Appended)
	default:
		_, _ = fmt.Fprintf(w, "+%d -%d ~%d", res.Added, res.Removed, res.Changed)
	}
	if res.Written {
		_, _ = fmt.Fprintf(w, " wrote %d records\n", res.Records)
	} else if res.Error == "" {
		_, _ = fmt.Fprintf(w, " no change, snapshot kept (%d records)\n", res.Records)
	} else {
		_, _ = fmt.Fprintf(w, " failed: %s\n", res.Error)
	}
}

func init() {
	enrichCmd.Flags().StringVar(&enrichMode, "mode", "", "merge mode: diff, append or overwrite (default from config)")
	enrichCmd.Flags().BoolVar(&enrichNoGeocode, "no-geocode", false, "skip Nominatim reverse geocoding")
	enrichCmd.Flags().BoolVar(&enrichJSON, "json", false, "print the run result as JSON")
	rootCmd.AddCommand(enrichCmd)
}
