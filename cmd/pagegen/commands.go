package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pageforge/internal/client"
	"pageforge/internal/domain"
)

func submitCmd(root *rootOptions) *cobra.Command {
	var (
		watch    bool
		out      string
		interval time.Duration
		attempts int
	)
	cmd := &cobra.Command{
		Use:   "submit <brief.json|->",
		Short: "Submit a JSON brief and print the job id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			brief, err := readBrief(cmd, args[0])
			if err != nil {
				return err
			}
			c := root.client()
			sub, err := c.Submit(cmd.Context(), brief)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s accepted\n", sub.JobID)
			if !watch {
				return nil
			}
			return runWatch(cmd, c, sub.JobID, out, interval, attempts)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "poll until the job finishes")
	addWatchFlags(cmd, &out, &interval, &attempts)
	return cmd
}

func statusCmd(root *rootOptions) *cobra.Command {
	var (
		out    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Poll a job once; this may advance it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := root.client().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, st, asJSON)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the final HTML to this file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw state as JSON")
	return cmd
}

func processCmd(root *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "process <job-id>",
		Short: "Explicitly advance a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := root.client().Process(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, st, false)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the final HTML to this file")
	return cmd
}

func getCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show the stored job without advancing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := root.client().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeOutput(cmd, "", st, true)
		},
	}
}

func watchCmd(root *rootOptions) *cobra.Command {
	var (
		out      string
		interval time.Duration
		attempts int
	)
	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Poll a job until it finishes or the attempt budget runs out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, root.client(), args[0], out, interval, attempts)
		},
	}
	addWatchFlags(cmd, &out, &interval, &attempts)
	return cmd
}

func addWatchFlags(cmd *cobra.Command, out *string, interval *time.Duration, attempts *int) {
	cmd.Flags().StringVarP(out, "out", "o", "", "write the final HTML to this file")
	cmd.Flags().DurationVar(interval, "interval", 2*time.Second, "delay between polls")
	cmd.Flags().IntVar(attempts, "attempts", 150, "maximum number of polls")
}

func runWatch(cmd *cobra.Command, c *client.Client, jobID, out string, interval time.Duration, attempts int) error {
	lastProgress := -1
	st, err := c.Watch(cmd.Context(), jobID, client.WatchOptions{
		Interval:    interval,
		MaxAttempts: attempts,
		OnUpdate: func(st domain.JobState) {
			if st.Progress != lastProgress {
				lastProgress = st.Progress
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %3d%% %s\n", st.Status, st.Progress, time.Now().Format(time.TimeOnly))
			}
		},
	})
	if errors.Is(err, client.ErrGaveUp) {
		fmt.Fprintf(cmd.ErrOrStderr(), "stopped watching after %d polls; job %s is still %s\n", attempts, jobID, st.Status)
		return err
	}
	if err != nil {
		return err
	}
	if err := writeOutput(cmd, out, st, false); err != nil {
		return err
	}
	if st.Status == domain.JobStatusFailed {
		return fmt.Errorf("job %s failed: %s", jobID, st.Error)
	}
	return nil
}

func readBrief(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read brief: %w", err)
	}
	return data, nil
}
