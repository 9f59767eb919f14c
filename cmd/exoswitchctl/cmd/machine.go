package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/exoswitch/exoswitch/internal/machine"
	"github.com/exoswitch/exoswitch/pkg/protocol"
)

type waitFlags struct {
	wait     bool
	interval time.Duration
	timeout  time.Duration
}

func (f *waitFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.wait, "wait", false, "poll until the provider job finishes")
	cmd.Flags().DurationVar(&f.interval, "interval", 2*time.Second, "poll interval with --wait")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 5*time.Minute, "give up waiting after this long")
}

func newStartCmd() *cobra.Command {
	return newLifecycleCmd("start", "Start the game server VM", "/api/v1/machine/start")
}

func newStopCmd() *cobra.Command {
	return newLifecycleCmd("stop", "Stop the game server VM", "/api/v1/machine/stop")
}

func newLifecycleCmd(use, short, path string) *cobra.Command {
	var wf waitFlags

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp protocol.JobStartedResponse
			if err := apiPost(cmd.Context(), path, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job: %s\n", resp.JobID)
			if !wf.wait {
				return nil
			}
			return waitForJob(cmd.Context(), cmd.OutOrStdout(), resp.JobID, wf)
		},
	}
	wf.register(cmd)
	return cmd
}

func newJobCmd() *cobra.Command {
	var wf waitFlags

	cmd := &cobra.Command{
		Use:   "job <id>",
		Short: "Show the provider's result for an async job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if wf.wait {
				return waitForJob(cmd.Context(), cmd.OutOrStdout(), args[0], wf)
			}
			resp, err := getJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	wf.register(cmd)
	return cmd
}

func getJob(ctx context.Context, jobID string) (*protocol.JobStatusResponse, error) {
	var resp protocol.JobStatusResponse
	if err := apiGet(ctx, "/api/v1/jobs/"+url.PathEscape(jobID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// waitForJob polls until jobstatus leaves pending. A failed job is an error.
func waitForJob(ctx context.Context, out io.Writer, jobID string, wf waitFlags) error {
	ctx, cancel := context.WithTimeout(ctx, wf.timeout)
	defer cancel()

	ticker := time.NewTicker(wf.interval)
	defer ticker.Stop()

	for {
		resp, err := getJob(ctx, jobID)
		if err != nil {
			return err
		}
		status, _ := machine.JobStatusCode(resp.Result)
		switch status {
		case machine.JobSuccess:
			printJob(out, resp)
			return nil
		case machine.JobFailure:
			printJob(out, resp)
			return fmt.Errorf("job %s failed", jobID)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func printJob(out io.Writer, resp *protocol.JobStatusResponse) {
	state := "pending"
	if status, ok := machine.JobStatusCode(resp.Result); ok {
		switch status {
		case machine.JobSuccess:
			state = "succeeded"
		case machine.JobFailure:
			state = "failed"
		}
	} else {
		state = "unknown"
	}
	fmt.Fprintf(out, "Job %s: %s\n", resp.JobID, state)
	if code, ok := resp.Result["jobresultcode"]; ok {
		fmt.Fprintf(out, "Result code: %v\n", code)
	}
}
