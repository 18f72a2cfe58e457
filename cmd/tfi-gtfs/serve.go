package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seanblanchfield/tfi-gtfs/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the arrivals API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		g, err := newGTFS(ctx)
		if err != nil {
			return err
		}
		g.StartPoller(ctx)

		srv := server.New(g, cfg.MaxWait)
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		return srv.ListenAndServe(addr, cfg.SSLCert, cfg.SSLKey)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
