package main

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	gtfs "github.com/seanblanchfield/tfi-gtfs"
	"github.com/seanblanchfield/tfi-gtfs/downloader"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download and extract the static GTFS feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := downloader.Fetch(cmd.Context(), cfg.StaticURL, cfg.DataDir); err != nil {
			return err
		}

		// Any existing snapshot was built from the previous feed.
		snapshot := filepath.Join(cfg.DataDir, gtfs.SnapshotFile)
		if err := os.Remove(snapshot); err == nil {
			logrus.Info("removed stale snapshot")
		}

		logrus.Infof("static feed extracted into %s", cfg.DataDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}
