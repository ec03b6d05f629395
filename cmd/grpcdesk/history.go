package main

import (
	"fmt"
	"time"

	"github.com/shhac/grpcdesk/internal/app"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
)

func newHistoryCmd(o *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent calls of the active workspace, newest first",
		Args:  cobra.NoArgs,
		RunE: o.withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
			entries, err := a.Store().History(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %s/%s  %s  %s  %s\n",
					e.Timestamp.Local().Format(time.DateTime),
					e.Service, e.Method,
					codes.Code(e.StatusCode),
					e.Endpoint.Address(),
					e.Duration.Round(time.Millisecond),
				)
			}
			return nil
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show (0 for all)")
	return cmd
}
