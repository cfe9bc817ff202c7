package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/binaudit/config"
	"github.com/otherjamesbrown/binaudit/pkg/audit"
	"github.com/otherjamesbrown/binaudit/pkg/materials"
	"github.com/otherjamesbrown/binaudit/pkg/patterns"
)

// PatternsCommandDeps holds the dependencies for pattern commands.
type PatternsCommandDeps struct {
	LoadConfig  func() (*config.ServiceConfig, error)
	ConnectToDB func(context.Context, *config.ServiceConfig) (*pgxpool.Pool, error)
}

// DefaultPatternsDeps returns the default dependencies for production use.
func DefaultPatternsDeps() *PatternsCommandDeps {
	return &PatternsCommandDeps{
		LoadConfig:  loadConfig,
		ConnectToDB: connectToDatabase,
	}
}

// NewPatternsCommand creates the root patterns command with all subcommands.
func NewPatternsCommand(deps *PatternsCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultPatternsDeps()
	}

	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Manage response patterns",
		Long: `Manage the response patterns that turn verdicts into messages.

A pattern belongs to one organization and maps an audit code to a template.
For each verdict the live pattern with the lowest priority value whose
condition matches the code is used; patterns with equal priority keep their
insertion order. Without a match the built-in default message applies.

Templates may use these placeholders:
  {{code}}            the audit code
  {{detect_type}}     label of the detected material
  {{claimed_type}}    label of the claimed material
  {{warning_items}}   the problem items, joined for the locale

Patterns are read from a YAML file (--patterns or patterns_file) or from
the response_patterns table when a database is configured.`,
		Aliases: []string{"pattern"},
	}

	cmd.AddCommand(newPatternsValidateCommand(deps))
	cmd.AddCommand(newPatternsRenderCommand(deps))
	cmd.AddCommand(newPatternsListCommand(deps))
	cmd.AddCommand(newPatternsAddCommand(deps))
	cmd.AddCommand(newPatternsSetActiveCommand(deps, "enable", true))
	cmd.AddCommand(newPatternsSetActiveCommand(deps, "disable", false))

	return cmd
}

func newPatternsValidateCommand(deps *PatternsCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a patterns file",
		Long: `Check every pattern in a YAML patterns file. Unknown conditions and
malformed placeholders are reported; invalid patterns would be skipped at load
time. Placeholder names that are not substituted are noted and render
verbatim.`,
		Example: `  binaudit patterns validate ./patterns.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatternsValidate(args[0], cmd.OutOrStdout())
		},
	}
}

func runPatternsValidate(path string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading patterns file: %w", err)
	}
	ps, err := patterns.ParseFile(data)
	if err != nil {
		return err
	}

	color := colorEnabled(out)
	invalid := 0
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tORG\tPRIORITY\tCODE\tRESULT")
	for _, p := range ps {
		result := paint(color, ansiGreen, "ok")
		c, err := patterns.Compile(p)
		switch {
		case err != nil:
			invalid++
			result = paint(color, ansiRed, err.Error())
		case len(c.Template.Unknown()) > 0:
			result += paint(color, ansiYellow, fmt.Sprintf(" (verbatim: {{%s}})", strings.Join(c.Template.Unknown(), "}}, {{")))
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", p.ID, p.OrganizationID, p.Priority, p.Condition, result)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d patterns invalid", invalid, len(ps))
	}
	fmt.Fprintf(out, "\n%d patterns valid.\n", len(ps))
	return nil
}

type renderOptions struct {
	code     string
	claimed  string
	detected string
	items    []string
	lang     string
	org      string
	patterns string
}

func newPatternsRenderCommand(deps *PatternsCommandDeps) *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Preview the message for a verdict",
		Long: `Render the message an organization would receive for a verdict with the
given code, using the same pattern selection as an audit.`,
		Example: `  binaudit patterns render --code lc --claimed recyclable --items "food residue"
  binaudit patterns render --code wc --claimed organic --detected general --org acme --lang ja`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatternsRender(cmd.Context(), deps, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.code, "code", "", "Audit code (cc, wc, ui, hc, lc, ncm, pe, ie)")
	cmd.Flags().StringVar(&opts.claimed, "claimed", string(materials.Recyclable), "Claimed material")
	cmd.Flags().StringVar(&opts.detected, "detected", "", "Detected material, or unknown (default: claimed)")
	cmd.Flags().StringSliceVar(&opts.items, "items", nil, "Problem items")
	cmd.Flags().StringVar(&opts.lang, "lang", "", "Locale (en, ko, ja)")
	cmd.Flags().StringVar(&opts.org, "org", "", "Organization ID")
	cmd.Flags().StringVar(&opts.patterns, "patterns", "", "Response patterns YAML file (overrides config)")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func runPatternsRender(ctx context.Context, deps *PatternsCommandDeps, opts *renderOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	v, err := buildVerdict(materials.Default(), opts.code, opts.claimed, opts.detected, opts.items)
	if err != nil {
		return err
	}

	org := opts.org
	if org == "" {
		org = cfg.OrganizationID
	}
	lang := opts.lang
	if lang == "" {
		lang = cfg.Lang
	}

	log := newLogger(cfg)
	src, err := openPatternSource(ctx, cfg, opts.patterns, log)
	if err != nil {
		return fmt.Errorf("opening response patterns: %w", err)
	}
	defer src.Close()

	set := patterns.EmptySet(org)
	if r := src.Resolver(cfg, log); r != nil {
		if set, err = r.Snapshot(ctx, org); err != nil {
			return err
		}
	}

	msg := patterns.NewEngine(nil, nil).Render(set, v, lang)
	fmt.Fprintln(out, msg.Text)
	if msg.Default {
		fmt.Fprintln(os.Stderr, "(built-in default)")
	} else {
		fmt.Fprintf(os.Stderr, "(pattern %d)\n", msg.PatternID)
	}
	return nil
}

// buildVerdict assembles a verdict for previewing messages.
func buildVerdict(catalog *materials.Catalog, code, claimed, detected string, items []string) (audit.MaterialVerdict, error) {
	c, err := audit.ParseCode(code)
	if err != nil {
		return audit.MaterialVerdict{}, err
	}
	ck, ok := catalog.ParseKey(claimed)
	if !ok {
		return audit.MaterialVerdict{}, fmt.Errorf("unknown material %q", claimed)
	}
	cm, _ := catalog.Lookup(ck)

	dt := strconv.Itoa(cm.ID)
	switch detected {
	case "":
	case "unknown":
		dt = strconv.Itoa(materials.UnknownID)
	default:
		dk, ok := catalog.ParseKey(detected)
		if !ok {
			return audit.MaterialVerdict{}, fmt.Errorf("unknown material %q", detected)
		}
		dt = catalog.IDString(dk)
	}

	wi := []string{}
	if c != audit.CodeCC {
		wi = append(wi, items...)
	}
	return audit.MaterialVerdict{
		ClaimedTypeID:  cm.ID,
		Status:         audit.StatusFor(c.Severity()),
		Confidence:     1,
		Code:           c,
		Severity:       c.Severity(),
		DetectedTypeID: dt,
		WrongItems:     wi,
	}, nil
}

func newPatternsListCommand(deps *PatternsCommandDeps) *cobra.Command {
	var org, file, output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an organization's live patterns",
		Long: `List an organization's live patterns in the order they are matched.
Patterns that fail validation are listed with the reason they are skipped.`,
		Example: `  binaudit patterns list --org acme
  binaudit patterns list --org acme --patterns ./patterns.yaml -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatternsList(cmd.Context(), deps, org, file, output, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "Organization ID")
	cmd.Flags().StringVar(&file, "patterns", "", "Response patterns YAML file (overrides config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func runPatternsList(ctx context.Context, deps *PatternsCommandDeps, org, file, output string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
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

	log := newLogger(cfg)
	src, err := openPatternSource(ctx, cfg, file, log)
	if err != nil {
		return fmt.Errorf("opening response patterns: %w", err)
	}
	defer src.Close()
	if src.repo == nil {
		return fmt.Errorf("no pattern source: pass --patterns or configure patterns_file or a database")
	}

	ps, err := src.repo.ListPatterns(ctx, org)
	if err != nil {
		return err
	}
	set := patterns.NewSet(org, ps, time.Now(), log)

	if format != config.OutputFormatText {
		live := make([]patterns.ResponsePattern, 0, set.Len())
		for _, c := range set.Patterns() {
			live = append(live, c.Pattern)
		}
		return writeStructured(out, format, live)
	}

	if set.Len() == 0 && len(set.Skipped()) == 0 {
		fmt.Fprintf(out, "No live patterns for organization %q.\n", org)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tCODE\tEXPIRES\tTEMPLATE")
	for _, c := range set.Patterns() {
		expires := "-"
		if c.Pattern.ExpiresAt != nil {
			expires = c.Pattern.ExpiresAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", c.Pattern.ID, c.Pattern.Priority, c.Pattern.Condition,
			expires, truncateString(c.Pattern.Template, 60))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, s := range set.Skipped() {
		fmt.Fprintf(out, "skipped %d: %v\n", s.Pattern.ID, s.Err)
	}
	return nil
}

func newPatternsAddCommand(deps *PatternsCommandDeps) *cobra.Command {
	var (
		org, code, template, expires string
		priority                     int
		inactive                     bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a pattern to the database",
		Long:  `Add a response pattern to the response_patterns table. The template is validated first.`,
		Example: `  binaudit patterns add --org acme --code lc --template "Lightly soiled: {{warning_items}}"
  binaudit patterns add --org acme --code wc --priority 10 --expires 2026-12-31T00:00:00Z \
    --template "{{detect_type}} found in the {{claimed_type}} bin"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			c, err := audit.ParseCode(code)
			if err != nil {
				return err
			}
			p := patterns.ResponsePattern{
				OrganizationID: org,
				Priority:       priority,
				Condition:      c,
				Template:       template,
				IsActive:       !inactive,
			}
			if expires != "" {
				t, err := time.Parse(time.RFC3339, expires)
				if err != nil {
					return fmt.Errorf("invalid --expires: %w", err)
				}
				p.ExpiresAt = &t
			}

			pool, err := deps.ConnectToDB(ctx, cfg)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()

			created, err := patterns.NewPostgresRepository(pool).CreatePattern(ctx, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created pattern %d (priority %d, %s).\n", created.ID, created.Priority, created.Condition)
			return nil
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "Organization ID")
	cmd.Flags().StringVar(&code, "code", "", "Condition code")
	cmd.Flags().StringVar(&template, "template", "", "Message template")
	cmd.Flags().IntVar(&priority, "priority", patterns.DefaultPriority, "Priority, lower wins")
	cmd.Flags().StringVar(&expires, "expires", "", "Expiry time (RFC 3339)")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Create the pattern disabled")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func newPatternsSetActiveCommand(deps *PatternsCommandDeps, use string, active bool) *cobra.Command {
	var org string
	cmd := &cobra.Command{
		Use:     use + " <id>",
		Short:   fmt.Sprintf("%s a stored pattern", map[bool]string{true: "Enable", false: "Disable"}[active]),
		Example: fmt.Sprintf("  binaudit patterns %s 42 --org acme", use),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid pattern id %q", args[0])
			}
			ctx := cmd.Context()
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			pool, err := deps.ConnectToDB(ctx, cfg)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()

			if err := patterns.NewPostgresRepository(pool).SetActive(ctx, org, id, active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pattern %d %sd.\n", id, use)
			return nil
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "Organization ID")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
