// cmd/server/process.go
package main

import (
	"companion-back/internal/database"
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <jobId>",
		Short: "Run the pipeline once for a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}

			ctx := context.Background()
			svc, err := a.connect(ctx)
			if err != nil {
				return err
			}

			out := a.runner(svc).Run(ctx, args[0])
			if !out.OK {
				return fmt.Errorf("job %s: %s", args[0], out.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s done\n", args[0])
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			if err := database.MigrateDB(a.store.DB()); err != nil {
				return err
			}
			a.log.Info("migrations applied")
			return nil
		},
	}
}
