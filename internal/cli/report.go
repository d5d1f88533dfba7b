package cli

import (
	"cmp"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	Graph    string
	Limit    int
}

// ReportLine summarizes one stored report.
type ReportLine struct {
	RunID     string    `json:"run_id"`
	Outcome   string    `json:"outcome"`
	Target    string    `json:"target"`
	Profile   string    `json:"profile"`
	Rigor     string    `json:"rigor"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// ReportHistory is the output of a history query.
type ReportHistory struct {
	GraphHash string       `json:"graph_hash"`
	Runs      []ReportLine `json:"runs"`
}

func (h ReportHistory) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "graph %s: %d run(s)", ir.Short(h.GraphHash), len(h.Runs))
	for _, r := range h.Runs {
		fmt.Fprintf(&b, "\n  %s  %-12s %s/%s/%s  %s", r.Timestamp.Format(time.RFC3339), r.Outcome, r.Target, r.Profile, r.Rigor, r.RunID)
	}
	return b.String()
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Show stored materialization reports",
		Long: `Read reports from the store. Reports are append-only.

With a run id, prints that run's full report as JSON. With --graph, lists
the runs of a graph in the order they were recorded.

Examples:
  kiln report 01928f6e-7b7c-7000-8000-000000000000 --db kiln.db
  kiln report --graph 3fa9c1... --limit 5 --db kiln.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runReport(opts, runID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite store (default from config)")
	cmd.Flags().StringVar(&opts.Graph, "graph", "", "list runs of a graph hash")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs to list")

	return cmd
}

func runReport(opts *ReportOptions, runID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if (runID == "") == (opts.Graph == "") {
		return NewExitError(ExitCommandError, "give either a run id or --graph")
	}
	path := cmp.Or(opts.Database, opts.Config.Store)
	if path == "" {
		return NewExitError(ExitCommandError, "no store: pass --db or set store in the config")
	}

	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()
	ctx := contextOf(cmd)

	if runID != "" {
		rep, err := st.ReadReport(ctx, runID)
		if errors.Is(err, store.ErrReportNotFound) {
			_ = formatter.Error("NOT_FOUND", fmt.Sprintf("no report for run %s", runID), nil)
			return NewExitError(ExitFailure, "report not found")
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read report", err)
		}
		resp := CLIResponse{Status: "ok", Data: rep, RunID: rep.RunID}
		return formatter.encode(resp)
	}

	reps, err := st.ReadReports(ctx, opts.Graph, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read reports", err)
	}
	hist := ReportHistory{GraphHash: opts.Graph, Runs: make([]ReportLine, len(reps))}
	for i, r := range reps {
		hist.Runs[i] = ReportLine{
			RunID:     r.RunID,
			Outcome:   r.Outcome,
			Target:    r.Target,
			Profile:   r.Profile,
			Rigor:     r.Rigor,
			Timestamp: r.Timestamp,
			Error:     r.Error,
		}
	}
	return formatter.Success(hist)
}
