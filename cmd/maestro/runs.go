package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/maestro/internal/di"
	"github.com/aristath/maestro/internal/domain"
	"github.com/aristath/maestro/internal/modules/approval"
	"github.com/aristath/maestro/internal/modules/snapshots"
)

var (
	viewFile   string
	jsonOutput bool
	exportOut  string
	runsLimit  int
)

func init() {
	runCmd.Flags().StringVarP(&viewFile, "file", "f", "", "Read the market view from a file (- for stdin)")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the run state as JSON")
	statusCmd.Flags().IntVarP(&runsLimit, "limit", "n", 10, "Number of runs to list when no id is given")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Write the CSV to a file instead of stdout")
	snapshotCmd.AddCommand(snapshotValidateCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [market view]",
	Short: "Start a run and wait for it to finish",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := readMarketView(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		container, err := wire()
		if err != nil {
			return err
		}
		defer container.Close()

		run, err := container.Orchestrator.StartRunAs(cmd.Context(), view, "cli")
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s started\n", run.ID)
		return awaitRun(cmd, container, run.ID)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run id>",
	Short: "Resume a failed run from its first unsettled stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		container, err := wire()
		if err != nil {
			return err
		}
		defer container.Close()

		run, err := container.Orchestrator.ResumeRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s resumed\n", run.ID)
		return awaitRun(cmd, container, run.ID)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [run id]",
	Short: "Show a run's stage history, or list recent runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		container, err := wire()
		if err != nil {
			return err
		}
		defer container.Close()

		out := cmd.OutOrStdout()
		if len(args) == 0 {
			runs, err := container.Orchestrator.ListRuns(cmd.Context(), runsLimit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(out, runs)
			}
			printRuns(out, runs)
			return nil
		}

		state, err := container.Orchestrator.GetRunState(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(out, state)
		}
		printRunState(out, state)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <run id>",
	Short: "Export approved and modified recommendations as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		container, err := wire()
		if err != nil {
			return err
		}
		defer container.Close()

		recs, err := container.ReviewService.ExportApproved(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("creating %s: %w", exportOut, err)
			}
			defer f.Close()
			out = f
		}
		if err := approval.WriteCSV(out, recs); err != nil {
			return err
		}
		log.Info().Str("run_id", args[0]).Int("count", len(recs)).Msg("Recommendations exported")
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Client and holdings snapshot tools",
}

var snapshotValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configured client and holdings files without creating a snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		container, err := wire()
		if err != nil {
			return err
		}
		defer container.Close()

		clients, holdings, err := container.SnapshotStore.Load(cmd.Context(),
			snapshots.FileSource{Path: cfg.ClientsFile},
			snapshots.FileSource{Path: cfg.HoldingsFile})
		if err != nil {
			var integrity *domain.DataIntegrityError
			if errors.As(err, &integrity) {
				for _, v := range integrity.Violations {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", v.Field, v.Message)
				}
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d clients, %d holdings\n", len(clients), len(holdings))
		return nil
	},
}

// readMarketView takes the view from the argument, --file, or stdin
func readMarketView(stdin io.Reader, args []string) (string, error) {
	var view string
	switch {
	case len(args) == 1:
		view = args[0]
	case viewFile == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading market view: %w", err)
		}
		view = string(data)
	case viewFile != "":
		data, err := os.ReadFile(viewFile)
		if err != nil {
			return "", fmt.Errorf("reading market view: %w", err)
		}
		view = string(data)
	default:
		return "", fmt.Errorf("a market view argument or --file is required")
	}
	view = strings.TrimSpace(view)
	if view == "" {
		return "", fmt.Errorf("market view is empty")
	}
	return view, nil
}

// awaitRun blocks until the run finishes. An interrupt fails the run so it
// can be resumed later.
func awaitRun(cmd *cobra.Command, container *di.Container, runID string) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	done := make(chan struct{})
	go func() {
		container.Orchestrator.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-quit:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Orchestrator.Shutdown(ctx); err != nil {
			return err
		}
	}

	state, err := container.Orchestrator.GetRunState(context.Background(), runID)
	if err != nil {
		return err
	}
	printRunState(cmd.OutOrStdout(), state)
	if state.Run.Status != domain.RunStatusSucceeded {
		return fmt.Errorf("run %s ended %s", runID, state.Run.Status)
	}
	return nil
}

func printRuns(w io.Writer, runs []domain.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTAGE\tTRIGGER\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, r.CurrentStage, r.Trigger, r.CreatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func printRunState(w io.Writer, state *domain.RunState) {
	run := state.Run
	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	fmt.Fprintf(w, "Snapshot: %s\n", run.SnapshotID)
	if run.LastError != "" {
		fmt.Fprintf(w, "Error:    %s\n", run.LastError)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nSTAGE\tSTATUS\tATTEMPTS\tLAST ERROR")
	for _, s := range state.Stages {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Stage, s.Status, s.Attempts, s.LastError)
	}
	tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
