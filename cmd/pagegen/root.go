package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pageforge/internal/client"
	"pageforge/internal/domain"
)

type rootOptions struct {
	server  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "pagegen",
		Short:         "Submit page briefs and follow their jobs",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	defaultServer := os.Getenv("PAGEGEN_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "API base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "per-request timeout")

	root.AddCommand(
		submitCmd(opts),
		statusCmd(opts),
		processCmd(opts),
		getCmd(opts),
		watchCmd(opts),
	)
	return root
}

func (o *rootOptions) client() *client.Client {
	return client.New(o.server, &http.Client{Timeout: o.timeout})
}

func printState(w io.Writer, st domain.JobState) {
	fmt.Fprintf(w, "job %s: %s (step %d, %d%%)\n", st.JobID, st.Status, st.CurrentStep, st.Progress)
	for _, s := range st.Steps {
		line := fmt.Sprintf("  %d %-9s %-9s %3d%%", s.Stage, s.Name, s.Status, s.Progress)
		if s.Detail != "" {
			line += "  " + s.Detail
		}
		fmt.Fprintln(w, line)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", st.Error)
	}
}

func writeOutput(cmd *cobra.Command, path string, st domain.JobState, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	printState(cmd.OutOrStdout(), st)
	if path != "" && st.FinalHTML != "" {
		if err := os.WriteFile(path, []byte(st.FinalHTML), 0o644); err != nil {
			return fmt.Errorf("write html: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "html written to %s\n", path)
	}
	return nil
}
