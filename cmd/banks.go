package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ctut-gis/atm-cli/internal/snapshot"
)

var banksOut string

var banksCmd = &cobra.Command{
	Use:   "banks",
	Short: "List the unique bank names in the snapshot",
	Long:  "Reads the snapshot and prints the sorted, de-duplicated bank names as a JSON array, or writes them to --out.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		records, err := snapshot.NewStore(cfg.Pipeline.SnapshotPath).Read()
		if err != nil {
			return err
		}
		banks := snapshot.Banks(records)

		if banksOut == "" {
			return writeBanks(os.Stdout, banks)
		}

		if err := os.MkdirAll(filepath.Dir(banksOut), 0o755); err != nil {
			return eris.Wrap(err, "banks: create output dir")
		}
		f, err := os.Create(banksOut)
		if err != nil {
			return eris.Wrap(err, "banks: create output file")
		}
		if err := writeBanks(f, banks); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "banks: close output file")
		}
		zap.L().Info("bank list written", zap.String("path", banksOut), zap.Int("banks", len(banks)))
		return nil
	},
}

func writeBanks(w io.Writer, banks []string) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(banks), "banks: encode")
}

func init() {
	banksCmd.Flags().StringVar(&banksOut, "out", "", "write the list to this file instead of stdout")
	rootCmd.AddCommand(banksCmd)
}
