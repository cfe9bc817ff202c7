package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/binaudit/config"
	"github.com/otherjamesbrown/binaudit/pkg/auditlog"
	"github.com/otherjamesbrown/binaudit/pkg/batch"
	"github.com/otherjamesbrown/binaudit/pkg/codec"
	"github.com/otherjamesbrown/binaudit/pkg/judge"
	"github.com/otherjamesbrown/binaudit/pkg/logging"
	"github.com/otherjamesbrown/binaudit/pkg/materials"
)

// AuditCommandDeps holds the dependencies for the audit command.
type AuditCommandDeps struct {
	LoadConfig func() (*config.ServiceConfig, error)
	NewJudge   func(cfg *config.ServiceConfig, fixtures string) (judge.Judge, error)
	OpenStore  func(ctx context.Context, cfg *config.ServiceConfig) (*auditlog.Store, error)
	Stdin      io.Reader
}

// DefaultAuditDeps returns the default dependencies for production use.
func DefaultAuditDeps() *AuditCommandDeps {
	return &AuditCommandDeps{
		LoadConfig: loadConfig,
		NewJudge:   newJudge,
		OpenStore:  openAuditLog,
		Stdin:      os.Stdin,
	}
}

type auditOptions struct {
	judgments   string
	patterns    string
	lang        string
	org         string
	concurrency int
	record      bool
	abbreviated bool
	output      string
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(deps *AuditCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultAuditDeps()
	}
	opts := &auditOptions{}

	cmd := &cobra.Command{
		Use:   "audit [request-file]",
		Short: "Audit a batch of disposal transactions",
		Long: `Audit a batch of disposal transactions.

Each transaction first passes the completeness gate: general, organic and
recyclable evidence must all be present. Complete transactions have every
submitted material judged by the vision model, reduced to one verdict and
rendered into a message from the organization's response patterns.

The request is read from the given file, or stdin when omitted or "-".
Files ending in .yaml or .yml are parsed as YAML, anything else as JSON:

  {
    "organization_id": "acme",
    "lang": "en",
    "transactions": [
      {"transaction_id": 1001, "materials": [
        {"material": "general", "images": ["https://..."]},
        {"material": "organic", "images": ["https://..."]},
        {"material": "recyclable", "images": ["https://..."]}
      ]}
    ]
  }

Judgments come from the configured model endpoint (judge.base_url), or from
a fixtures file with --judgments for offline runs.`,
		Example: `  binaudit audit batch.json --judgments fixtures.json
  binaudit audit batch.yaml -o json
  cat batch.json | binaudit audit --abbreviated -o json
  binaudit audit batch.json --patterns ./patterns.yaml --lang ko --record`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runAudit(cmd.Context(), deps, opts, name, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.judgments, "judgments", "", "JSON fixtures file of canned model outputs")
	cmd.Flags().StringVar(&opts.patterns, "patterns", "", "Response patterns YAML file (overrides config)")
	cmd.Flags().StringVar(&opts.lang, "lang", "", "Locale for messages and item labels (en, ko, ja)")
	cmd.Flags().StringVar(&opts.org, "org", "", "Organization ID (overrides the request)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Concurrent model calls per transaction")
	cmd.Flags().BoolVar(&opts.record, "record", false, "Record the run in the audit_runs table")
	cmd.Flags().BoolVar(&opts.abbreviated, "abbreviated", false, "Output only abbreviated verdicts")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

func runAudit(ctx context.Context, deps *AuditCommandDeps, opts *auditOptions, name string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	format, err := resolveFormat(opts.output, cfg)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	data, err := readInput(name, deps.Stdin)
	if err != nil {
		return fmt.Errorf("reading request: %w", err)
	}
	var req batch.Request
	if err := decodeDocument(name, data, &req); err != nil {
		return fmt.Errorf("parsing request: %w", err)
	}
	applyAuditOverrides(&req, opts, cfg)

	j, err := deps.NewJudge(cfg, opts.judgments)
	if err != nil {
		return err
	}

	src, err := openPatternSource(ctx, cfg, opts.patterns, log)
	if err != nil {
		return fmt.Errorf("opening response patterns: %w", err)
	}
	defer src.Close()

	concurrency := cfg.Concurrency
	if opts.concurrency > 0 {
		concurrency = opts.concurrency
	}
	orch := batch.New(j,
		batch.WithConcurrency(concurrency),
		batch.WithPatterns(src.Resolver(cfg, log)),
		batch.WithLogger(log))

	log.Debug("Running audit",
		logging.F("transactions", len(req.Transactions)),
		logging.F("patterns", src.Describe()))

	resp, err := orch.Audit(ctx, req)
	if err != nil {
		return fmt.Errorf("audit failed: %w", err)
	}

	if opts.record {
		store, err := deps.OpenStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer store.Close()
		if err := store.RecordBatch(ctx, "", resp); err != nil {
			return fmt.Errorf("recording audit run: %w", err)
		}
		log.Info("Recorded audit run", logging.F("batch_id", resp.BatchID))
	}

	if opts.abbreviated {
		if format == config.OutputFormatText {
			format = config.OutputFormatJSON
		}
		return writeStructured(out, format, codec.EncodeAll(resp.Verdicts()))
	}
	if format != config.OutputFormatText {
		return writeStructured(out, format, resp)
	}
	return outputAuditText(out, resp, req.Lang)
}

func applyAuditOverrides(req *batch.Request, opts *auditOptions, cfg *config.ServiceConfig) {
	if opts.org != "" {
		req.OrganizationID = opts.org
	} else if req.OrganizationID == "" {
		req.OrganizationID = cfg.OrganizationID
	}
	if opts.lang != "" {
		req.Lang = opts.lang
	} else if req.Lang == "" {
		req.Lang = cfg.Lang
	}
}

// openAuditLog opens the audit_runs store on the configured database.
func openAuditLog(ctx context.Context, cfg *config.ServiceConfig) (*auditlog.Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("database not configured: set DB_HOST or the database section of the config file")
	}
	store, err := auditlog.Open(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// outputAuditText prints one line per material verdict grouped by
// transaction.
func outputAuditText(out io.Writer, resp *batch.Response, lang string) error {
	color := colorEnabled(out)

	fmt.Fprintf(out, "Batch %s", resp.BatchID)
	if resp.OrganizationID != "" {
		fmt.Fprintf(out, " (org %s)", resp.OrganizationID)
	}
	fmt.Fprintln(out)

	for _, tx := range resp.Transactions {
		fmt.Fprintln(out)
		if tx.Completeness.Passed() {
			fmt.Fprintf(out, "Transaction %d  %s\n", tx.TransactionID, paint(color, ansiGreen, "complete"))
		} else {
			missing := make([]string, 0, len(tx.Completeness.Missing))
			for _, k := range tx.Completeness.Missing {
				missing = append(missing, materials.Label(k, lang))
			}
			fmt.Fprintf(out, "Transaction %d  %s (missing: %s)\n", tx.TransactionID,
				paint(color, ansiRed, "incomplete"), strings.Join(missing, ", "))
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  MATERIAL\tSTATUS\tCODE\tSEVERITY\tCONF\tMESSAGE")
		for _, m := range tx.Materials {
			v := m.MaterialVerdict()
			status := paint(color, ansiGreen, string(v.Status))
			if !v.Approved() {
				status = paint(color, ansiRed, string(v.Status))
			}
			if !m.Success {
				status = paint(color, ansiYellow, string(v.Status))
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%.2f\t%s\n",
				m.Material, status, v.Code, v.Severity, v.Confidence, truncateString(m.Message.Text, 80))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Summary: %d complete, %d incomplete, %d materials audited, %d rejected, %d system failures\n",
		resp.Summary.Step1Passed, resp.Summary.Step1Failed, resp.Summary.Step2MaterialsAudited,
		resp.Rejected(), resp.Failed())
	fmt.Fprintf(out, "Tokens: %d in, %d out, %d total  Judgment: %.2fs\n",
		resp.TokenUsage.InputTokens, resp.TokenUsage.OutputTokens, resp.TokenUsage.TotalTokens,
		resp.Duration.JudgmentSeconds)
	return nil
}
