package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query STOP [STOP...]",
	Short: "Print upcoming arrivals for one or more stops",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		g, err := newGTFS(ctx)
		if err != nil {
			return err
		}
		g.RefreshLive(ctx)

		now := time.Now()
		for _, stop := range args {
			if !g.IsValidStopNumber(ctx, stop) {
				fmt.Printf("Stop %s: unknown\n", stop)
				continue
			}
			fmt.Printf("Stop %s (%s):\n", stop, g.StopName(ctx, stop))
			arrivals := g.GetScheduledArrivals(ctx, stop, now, cfg.MaxWait)
			if len(arrivals) == 0 {
				fmt.Println("  no arrivals")
				continue
			}
			for _, a := range arrivals {
				line := fmt.Sprintf("  %s (%s) %s", a.Route, a.Agency, a.ScheduledArrival.Format("15:04"))
				if a.RealTimeArrival != nil {
					line += fmt.Sprintf(", live %s", a.RealTimeArrival.Format("15:04"))
				}
				fmt.Println(line)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}
