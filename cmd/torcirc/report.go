package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/torcirc/torcirc/internal/config"
	"github.com/torcirc/torcirc/internal/database"
	"github.com/torcirc/torcirc/internal/report"
)

// NewReportCmd creates the report command.
func NewReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the persisted run history",
		Long: `Report renders node and job history from the run database.

The report covers every circuit the daemon has created, its rotations
and retirement, and the outcome of each finished job. It is built from
the database alone, so it works after the daemon has exited.

Examples:
  # Markdown report to stdout
  torcirc report

  # JSON report
  torcirc report --json

  # Write the report to a file
  torcirc report -o report.md`,
		Args: cobra.NoArgs,
		RunE: runReportCmd,
	}

	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().String("db-dir", config.DefaultDBDir(),
		"Directory holding the run database")

	return cmd
}

// runReportCmd executes the report command.
func runReportCmd(cmd *cobra.Command, _ []string) error {
	jsonOut, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	markdownOut, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	if jsonOut && markdownOut {
		return errors.New("--json and --markdown are mutually exclusive")
	}

	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return err
	}

	store, err := database.Open(dbDir, database.Options{})
	if err != nil {
		return fmt.Errorf("failed to open run database: %w", err)
	}
	defer store.Close() //nolint:errcheck // read-only usage

	rep, err := report.Build(cmd.Context(), store)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}

	var out io.Writer = cmd.OutOrStdout()
	if outputPath != "" {
		if dir := filepath.Dir(outputPath); dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		f, err := os.Create(outputPath) //nolint:gosec // user-provided output path is intentional
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed to close output file: %v\n", err)
			}
		}()
		out = f
	}

	var w report.Writer
	if jsonOut {
		w = report.NewJSONWriter(out)
	} else {
		w = report.NewMarkdownWriter(out)
	}
	if _, err := w.Write(rep); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
