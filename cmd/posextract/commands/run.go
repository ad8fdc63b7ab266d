package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"posextract/internal/app"
	"posextract/internal/infrastructure"
	"posextract/internal/operations"
	"posextract/pkg/contracts/domain"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var req operations.SubmitRequest

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one extraction job in the foreground and print its result.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			logger, err := root.initLogger(cfg.Logging, true)
			if err != nil {
				return err
			}
			defer infrastructure.CloseLogFile()

			application, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer application.Stop(context.WithoutCancel(cmd.Context()))

			job, err := application.RunJob(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJob(cmd, job)
		},
	}
	cmd.Flags().StringVar(&req.ReportDate, "date", "", "report date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&req.DeliveryURL, "deliver-to", "", "POST the result to this URL")
	return cmd
}

func printJob(cmd *cobra.Command, job *domain.Job) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %s %s\n", job.ID, job.Status)
	if job.Result != nil {
		renderJobResult(out, *job.Result)
	}
	if job.Delivered != nil {
		fmt.Fprintf(out, "Delivered: %t\n", *job.Delivered)
	}
	if job.Status == domain.JobStatusFailed {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", job.Error)
		return errJobFailed
	}
	return nil
}
