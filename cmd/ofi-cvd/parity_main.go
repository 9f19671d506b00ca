package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
	"github.com/spf13/cobra"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/sinks"
)

type parityOpts struct {
	jsonlRoot string
	sqliteDSN string
	out       string
}

// newParityCmd wraps internal/sinks.Diff: spec.md §4.5's dual-sink
// equivalence check, run as a standalone CLI step against the JSONL and
// SQLite artifacts a completed run produced.
func newParityCmd() *cobra.Command {
	opts := &parityOpts{}

	cmd := &cobra.Command{
		Use:   "parity",
		Short: "Compare JSONL and SQLite sink contents for equivalence",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParity(opts)
		},
	}

	cmd.Flags().StringVar(&opts.jsonlRoot, "jsonl-root", "", "Directory of ready signal JSONL partitions (required)")
	cmd.Flags().StringVar(&opts.sqliteDSN, "sqlite-dsn", "", "SQLite DSN the run wrote to (required)")
	cmd.Flags().StringVar(&opts.out, "out", "parity_diff.json", "Output path for the parity report")

	return cmd
}

func runParity(opts *parityOpts) error {
	if opts.jsonlRoot == "" || opts.sqliteDSN == "" {
		return configErr(fmt.Errorf("parity: --jsonl-root and --sqlite-dsn are required"))
	}

	db, err := sqlx.Open("sqlite", opts.sqliteDSN)
	if err != nil {
		return runtimeErr(wrapf(err, "open sqlite dsn %s", opts.sqliteDSN))
	}
	defer db.Close()

	report, err := sinks.Diff(context.Background(), opts.jsonlRoot, db)
	if err != nil {
		return runtimeErr(wrapf(err, "compute parity diff"))
	}

	if err := os.MkdirAll(filepath.Dir(opts.out), 0o755); err != nil {
		return runtimeErr(wrapf(err, "create parity output dir"))
	}
	f, err := os.Create(opts.out)
	if err != nil {
		return runtimeErr(wrapf(err, "create parity report file"))
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return runtimeErr(wrapf(err, "encode parity report"))
	}

	if len(report.ThresholdExceededMinutes) > 0 {
		return runtimeErr(fmt.Errorf("parity: %d minute(s) exceeded the 0.2%% divergence threshold", len(report.ThresholdExceededMinutes)))
	}
	return nil
}
