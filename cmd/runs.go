package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/binaudit/config"
	"github.com/otherjamesbrown/binaudit/pkg/auditlog"
)

// RunsCommandDeps holds the dependencies for the runs command.
type RunsCommandDeps struct {
	LoadConfig func() (*config.ServiceConfig, error)
	OpenStore  func(ctx context.Context, cfg *config.ServiceConfig) (*auditlog.Store, error)
}

// DefaultRunsDeps returns the default dependencies for production use.
func DefaultRunsDeps() *RunsCommandDeps {
	return &RunsCommandDeps{
		LoadConfig: loadConfig,
		OpenStore:  openAuditLog,
	}
}

// NewRunsCommand creates the runs command listing logged audit runs.
func NewRunsCommand(deps *RunsCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultRunsDeps()
	}
	var (
		org    string
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded audit runs",
		Long: `List an organization's most recent audit runs from the audit_runs table.
Runs are recorded by 'binaudit audit --record' and 'binaudit worker --record'.`,
		Example: `  binaudit runs --org acme
  binaudit runs --org acme --limit 5 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			format, err := resolveFormat(output, cfg)
			if err != nil {
				return err
			}
			if org == "" {
				org = cfg.OrganizationID
			}

			store, err := deps.OpenStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("opening audit log: %w", err)
			}
			defer store.Close()

			runs, err := store.Recent(ctx, org, limit)
			if err != nil {
				return err
			}
			return outputRuns(cmd.OutOrStdout(), format, runs)
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "Organization ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func outputRuns(out io.Writer, format config.OutputFormat, runs []auditlog.Run) error {
	if format != config.OutputFormatText {
		if runs == nil {
			runs = []auditlog.Run{}
		}
		return writeStructured(out, format, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No audit runs recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tBATCH\tTXS\tINCOMPLETE\tAUDITED\tREJECTED\tFAILURES\tTOKENS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"), truncateString(r.BatchID, 36),
			len(r.TransactionIDs), r.Step1Failed, r.MaterialsAudited, r.Rejected, r.SystemFailures,
			r.InputTokens+r.OutputTokens)
	}
	return w.Flush()
}
