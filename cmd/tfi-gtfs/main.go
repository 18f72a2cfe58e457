package main

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	gtfs "github.com/seanblanchfield/tfi-gtfs"
	"github.com/seanblanchfield/tfi-gtfs/config"
	"github.com/seanblanchfield/tfi-gtfs/downloader"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "tfi-gtfs",
	Short: "Arrival times for Transport for Ireland stops",
	Long: "Serves upcoming arrivals per stop from the TFI static GTFS feed,\n" +
		"merged with the GTFS-realtime trip updates feed.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logrus.SetLevel(cfg.LogLevel)
	},
}

func gtfsOptions() gtfs.Options {
	return gtfs.Options{
		LiveURL:       cfg.LiveURL,
		APIKey:        cfg.APIKey,
		StaticURL:     cfg.StaticURL,
		DataDir:       cfg.DataDir,
		RedisURL:      cfg.RedisURL,
		PollingPeriod: cfg.PollingPeriod,
		FilterStops:   cfg.FilterStops,
	}
}

// newGTFS builds the resolver, downloading the static feed first when
// none is on disk yet.
func newGTFS(ctx context.Context) (*gtfs.GTFS, error) {
	g, err := gtfs.New(ctx, gtfsOptions())
	if errors.Is(err, gtfs.ErrStaticMissing) {
		logrus.Info("no static feed on disk, downloading")
		if err := downloader.Fetch(ctx, cfg.StaticURL, cfg.DataDir); err != nil {
			return nil, err
		}
		return gtfs.New(ctx, gtfsOptions())
	}
	return g, err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}
