// Package main provides the binaudit CLI entry point.
// binaudit audits photo evidence of sorted waste and renders the verdicts
// into organization-specific messages.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/binaudit/cmd"
	"github.com/otherjamesbrown/binaudit/pkg/buildinfo"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "binaudit",
	Short: "Waste-evidence audit engine",
	Long: `binaudit audits photo evidence of disposal transactions.

Each transaction must carry evidence for every mandatory material (general,
organic, recyclable). Each submitted material is judged by a vision model,
reduced to exactly one audit code by severity, and turned into a message
from the organization's response patterns.

COMMON WORKFLOWS:
  Audit a batch:       binaudit audit batch.json
  Offline audit:       binaudit audit batch.json --judgments fixtures.json
  Queue and process:   binaudit queue submit batch.json  →  binaudit worker
  Tune messages:       binaudit patterns validate patterns.yaml  →  binaudit patterns render --code lc
  Prepare database:    binaudit db migrate

All commands support --output json for structured output.`,
	SilenceUsage: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		if cmd.OutputFormat != "" {
			switch cmd.OutputFormat {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("invalid --output %q (must be text, json, or yaml)", cmd.OutputFormat)
			}
		}
		return nil
	},
}

// Version command flags.
var (
	versionOutputJSON bool
	versionWorker     string
)

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of binaudit.

Use --worker to also query a running worker's /version endpoint.

Examples:
  binaudit version
  binaudit version --output-json
  binaudit version --worker http://localhost:9464`,
	RunE: func(c *cobra.Command, args []string) error {
		infos := []buildinfo.Info{buildinfo.Get("binaudit")}
		if versionWorker != "" {
			info, err := fetchWorkerVersion(c.Context(), versionWorker)
			if err != nil {
				return err
			}
			infos = append(infos, info)
		}

		out := c.OutOrStdout()
		if versionOutputJSON || cmd.OutputFormat == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if len(infos) == 1 {
				return enc.Encode(infos[0])
			}
			return enc.Encode(infos)
		}

		for _, info := range infos {
			fmt.Fprintf(out, "%s version %s\n", info.ServiceName, info.Version)
			fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "  built:      %s\n", info.BuildTime)
			fmt.Fprintf(out, "  go:         %s\n", info.GoVersion)
		}
		return nil
	},
}

// fetchWorkerVersion reads build info from a worker's metrics server.
func fetchWorkerVersion(ctx context.Context, base string) (buildinfo.Info, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := strings.TrimRight(base, "/") + "/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return buildinfo.Info{}, fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return buildinfo.Info{}, fmt.Errorf("querying worker version: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return buildinfo.Info{}, fmt.Errorf("querying worker version: HTTP %d", resp.StatusCode)
	}

	var info buildinfo.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return buildinfo.Info{}, fmt.Errorf("parsing worker version: %w", err)
	}
	return info, nil
}

func init() {
	// Global flags.
	rootCmd.PersistentFlags().StringVar(&cmd.ConfigFile, "config", "", "config file (default is ~/.binaudit/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&cmd.OutputFormat, "output-format", "", "default output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&cmd.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddGroup(
		&cobra.Group{ID: "audit", Title: "Auditing:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	// Auditing
	auditCmd := cmd.NewAuditCommand(nil)
	auditCmd.GroupID = "audit"
	rootCmd.AddCommand(auditCmd)

	patternsCmd := cmd.NewPatternsCommand(nil)
	patternsCmd.GroupID = "audit"
	rootCmd.AddCommand(patternsCmd)

	codecCmd := cmd.NewCodecCommand()
	codecCmd.GroupID = "audit"
	rootCmd.AddCommand(codecCmd)

	catalogCmd := cmd.NewCatalogCommand(nil)
	catalogCmd.GroupID = "audit"
	rootCmd.AddCommand(catalogCmd)

	// Operations
	workerCmd := cmd.NewWorkerCommand(nil)
	workerCmd.GroupID = "ops"
	rootCmd.AddCommand(workerCmd)

	queueCmd := cmd.NewQueueCommand(nil)
	queueCmd.GroupID = "ops"
	rootCmd.AddCommand(queueCmd)

	runsCmd := cmd.NewRunsCommand(nil)
	runsCmd.GroupID = "ops"
	rootCmd.AddCommand(runsCmd)

	// Setup
	dbCmd := cmd.NewDbCommand(nil)
	dbCmd.GroupID = "setup"
	rootCmd.AddCommand(dbCmd)

	versionCmd.GroupID = "setup"
	versionCmd.Flags().BoolVar(&versionOutputJSON, "output-json", false, "Output as JSON")
	versionCmd.Flags().StringVar(&versionWorker, "worker", "", "Worker metrics URL to query (e.g. http://localhost:9464)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
