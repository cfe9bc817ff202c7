package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/binaudit/config"
	"github.com/otherjamesbrown/binaudit/pkg/auditlog"
	"github.com/otherjamesbrown/binaudit/pkg/db"
	"github.com/otherjamesbrown/binaudit/pkg/patterns"
)

// Migrations returns the schema migrations binaudit applies, in order.
func Migrations() []db.Migration {
	return []db.Migration{
		{Version: "001", Name: "create_response_patterns", SQL: patterns.Schema},
		{Version: "002", Name: "create_audit_runs", SQL: auditlog.Schema},
	}
}

// DbCommandDeps holds the dependencies for database commands.
type DbCommandDeps struct {
	LoadConfig  func() (*config.ServiceConfig, error)
	ConnectToDB func(context.Context, *config.ServiceConfig) (*pgxpool.Pool, error)
	Migrations  []db.Migration
	Stdin       io.Reader
}

// DefaultDbDeps returns the default dependencies for production use.
func DefaultDbDeps() *DbCommandDeps {
	return &DbCommandDeps{
		LoadConfig:  loadConfig,
		ConnectToDB: connectToDatabase,
		Migrations:  Migrations(),
		Stdin:       os.Stdin,
	}
}

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand(deps *DbCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultDbDeps()
	}

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for binaudit.

The database holds organization response patterns (response_patterns) and
the audit-run log (audit_runs). Migrations are built into the binary and
tracked in the schema_migrations table.

Connection settings come from the database section of the config file or
the DB_HOST, DB_PORT, DB_NAME, DB_USER, DB_PASSWORD and DB_SSLMODE
environment variables.

Examples:
  # Show migration status
  binaudit db status

  # Apply all pending migrations
  binaudit db migrate

  # Preview migrations without applying
  binaudit db migrate --dry-run`,
		Aliases: []string{"database", "migrations"},
	}

	cmd.AddCommand(newDbMigrateCommand(deps))
	cmd.AddCommand(newDbStatusCommand(deps))

	return cmd
}

type dbMigrateOptions struct {
	dryRun bool
	yes    bool
}

// newDbMigrateCommand creates the 'db migrate' subcommand.
func newDbMigrateCommand(deps *DbCommandDeps) *cobra.Command {
	opts := &dbMigrateOptions{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Shows pending migrations before applying them. Each migration runs in a
transaction and is recorded in the schema_migrations table. If a migration
fails, its transaction is rolled back and no further migrations are
attempted.`,
		Example: `  binaudit db migrate
  binaudit db migrate --dry-run
  binaudit db migrate --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context(), deps, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Apply without asking for confirmation")

	return cmd
}

// newDbStatusCommand creates the 'db status' subcommand.
func newDbStatusCommand(deps *DbCommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		Long: `Show the current state of database migrations.

Displays three categories of migrations:
  - Applied: migrations that have been applied
  - Pending: migrations known to this binary but not applied yet
  - Drift: migrations recorded in the database but unknown to this binary`,
		Example: `  binaudit db status
  binaudit db status -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context(), deps, output, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// runDbMigrate executes the db migrate command.
func runDbMigrate(ctx context.Context, deps *DbCommandDeps, opts *dbMigrateOptions, out io.Writer) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	status, err := db.GetMigrationStatus(ctx, pool, deps.Migrations)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}
	if len(status.Pending) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}

	fmt.Fprintf(out, "Pending migrations (%d):\n", len(status.Pending))
	for _, m := range status.Pending {
		fmt.Fprintf(out, "  %s - %s\n", m.Version, m.Name)
	}
	fmt.Fprintln(out)

	if opts.dryRun {
		fmt.Fprintln(out, "Dry run mode: no migrations applied.")
		return nil
	}

	if !opts.yes && !confirm(deps.Stdin, out, "Apply these migrations? (y/N): ") {
		fmt.Fprintln(out, "Migration cancelled.")
		return nil
	}

	color := colorEnabled(out)
	result, err := db.RunMigrations(ctx, pool, deps.Migrations)
	if err != nil {
		fmt.Fprintf(out, "\n%s %v\n", paint(color, ansiRed, "Migration failed:"), err)
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintf(out, "\nSuccessfully applied before failure:\n")
			for _, v := range result.Applied {
				fmt.Fprintf(out, "  %s %s\n", paint(color, ansiGreen, "✓"), v)
			}
		}
		return err
	}

	if len(result.Applied) > 0 {
		fmt.Fprintln(out, paint(color, ansiGreen, fmt.Sprintf("Successfully applied %d migration(s):", len(result.Applied))))
		for _, v := range result.Applied {
			fmt.Fprintf(out, "  %s %s\n", paint(color, ansiGreen, "✓"), v)
		}
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, "\nSkipped %d migration(s) (already applied):\n", len(result.Skipped))
		for _, v := range result.Skipped {
			fmt.Fprintf(out, "  - %s\n", v)
		}
	}
	return nil
}

// confirm asks a yes/no question on in.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	if in == nil {
		return false
	}
	fmt.Fprint(out, prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

// runDbStatus executes the db status command.
func runDbStatus(ctx context.Context, deps *DbCommandDeps, output string, out io.Writer) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	format, err := resolveFormat(output, cfg)
	if err != nil {
		return err
	}

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	status, err := db.GetMigrationStatus(ctx, pool, deps.Migrations)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	if format != config.OutputFormatText {
		return writeStructured(out, format, status)
	}
	return outputMigrationStatusText(out, status)
}

// outputMigrationStatusText formats migration status for terminal display.
func outputMigrationStatusText(out io.Writer, status *db.MigrationStatus) error {
	color := colorEnabled(out)

	section := func(title, ansi string, entries []db.MigrationStatusEntry, withTime bool) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintln(out, paint(color, ansi, fmt.Sprintf("%s (%d):", title, len(entries))))
		fmt.Fprintln(out, "  VERSION    NAME                              APPLIED")
		fmt.Fprintln(out, "  -------    ----                              -------")
		for _, m := range entries {
			appliedAt := "-"
			if withTime && m.AppliedAt != nil {
				appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(out, "  %-10s %-33s %s\n", truncateString(m.Version, 10), truncateString(m.Name, 33), appliedAt)
		}
		fmt.Fprintln(out)
	}

	section("Applied Migrations", ansiGreen, status.Applied, true)
	section("Pending Migrations", ansiYellow, status.Pending, false)
	section("Drift - applied but unknown to this binary", ansiRed, status.Drift, true)

	if len(status.Applied) == 0 && len(status.Pending) == 0 && len(status.Drift) == 0 {
		fmt.Fprintln(out, "No migrations found.")
		return nil
	}

	fmt.Fprintf(out, "Summary: %d applied, %d pending", len(status.Applied), len(status.Pending))
	if len(status.Drift) > 0 {
		fmt.Fprintf(out, ", %s", paint(color, ansiRed, fmt.Sprintf("%d drift", len(status.Drift))))
	}
	fmt.Fprintln(out)
	return nil
}
