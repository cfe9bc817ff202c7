package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/binaudit/config"
	"github.com/otherjamesbrown/binaudit/pkg/batch"
	"github.com/otherjamesbrown/binaudit/pkg/queues"
)

// QueueCommandDeps holds the dependencies for queue commands.
type QueueCommandDeps struct {
	LoadConfig     func() (*config.ServiceConfig, error)
	ConnectToRedis func(context.Context, *config.ServiceConfig) (*redis.Client, error)
	Stdin          io.Reader
}

// DefaultQueueDeps returns the default dependencies for production use.
func DefaultQueueDeps() *QueueCommandDeps {
	return &QueueCommandDeps{
		LoadConfig:     loadConfig,
		ConnectToRedis: connectToRedis,
		Stdin:          os.Stdin,
	}
}

// queueConfig builds the audit queue settings from cfg.
func queueConfig(cfg *config.ServiceConfig) queues.QueueConfig {
	qc := queues.DefaultQueueConfig(cfg.Worker.QueueName)
	if cfg.Worker.VisibilityTimeout > 0 {
		qc.VisibilityTimeout = cfg.Worker.VisibilityTimeout
	}
	if cfg.Worker.MaxRetries > 0 {
		qc.MaxRetries = cfg.Worker.MaxRetries
	}
	return qc
}

// parsePriority converts low, normal or high to a queue priority.
func parsePriority(s string) (queues.Priority, error) {
	switch strings.ToLower(s) {
	case "low":
		return queues.PriorityLow, nil
	case "", "normal":
		return queues.PriorityNormal, nil
	case "high":
		return queues.PriorityHigh, nil
	default:
		return 0, fmt.Errorf("invalid priority %q (must be low, normal, or high)", s)
	}
}

// NewQueueCommand creates the root queue command with all subcommands.
func NewQueueCommand(deps *QueueCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultQueueDeps()
	}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Submit and inspect queued audit requests",
		Long: `Submit audit requests to the Redis audit queue and inspect it.

Queued requests are processed by 'binaudit worker'. Higher priorities are
taken first, FIFO within a priority. Requests that keep failing, or that
can never succeed, are moved to the dead letter queue.`,
	}

	cmd.AddCommand(newQueueSubmitCommand(deps))
	cmd.AddCommand(newQueueStatusCommand(deps))

	return cmd
}

func newQueueSubmitCommand(deps *QueueCommandDeps) *cobra.Command {
	var priority, org, lang string
	cmd := &cobra.Command{
		Use:   "submit [request-file]",
		Short: "Enqueue a batch audit request",
		Example: `  binaudit queue submit batch.json
  binaudit queue submit batch.yaml --priority high --org acme`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			p, err := parsePriority(priority)
			if err != nil {
				return err
			}

			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			data, err := readInput(name, deps.Stdin)
			if err != nil {
				return fmt.Errorf("reading request: %w", err)
			}
			var req batch.Request
			if err := decodeDocument(name, data, &req); err != nil {
				return fmt.Errorf("parsing request: %w", err)
			}
			applyAuditOverrides(&req, &auditOptions{org: org, lang: lang}, cfg)
			if len(req.Transactions) == 0 {
				return fmt.Errorf("request has no transactions")
			}

			client, err := deps.ConnectToRedis(ctx, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			q := queues.NewRedisQueue(client, queueConfig(cfg))
			requestID := uuid.New().String()
			msgID, err := q.Enqueue(ctx, queues.NewAuditRequestMessage(requestID, req, p))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued request %s (message %s) on %s.\n", requestID, msgID, q.Name())
			return nil
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "normal", "Priority: low, normal, high")
	cmd.Flags().StringVar(&org, "org", "", "Organization ID (overrides the request)")
	cmd.Flags().StringVar(&lang, "lang", "", "Locale (overrides the request)")
	return cmd
}

// queueStatus is the output of queue status.
type queueStatus struct {
	Queue       string              `json:"queue" yaml:"queue"`
	Depth       int64               `json:"depth" yaml:"depth"`
	DeadLetters []queues.DeadLetter `json:"dead_letters" yaml:"dead_letters"`
}

func newQueueStatusCommand(deps *QueueCommandDeps) *cobra.Command {
	var (
		output string
		limit  int64
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depth and recent dead letters",
		Example: `  binaudit queue status
  binaudit queue status --dlq-limit 50 -o json`,
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
			client, err := deps.ConnectToRedis(ctx, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			q := queues.NewRedisQueue(client, queueConfig(cfg))
			status := queueStatus{Queue: q.Name()}
			if status.Depth, err = q.Depth(ctx); err != nil {
				return fmt.Errorf("reading queue depth: %w", err)
			}
			if status.DeadLetters, err = q.DeadLetters(ctx, limit); err != nil {
				return err
			}
			return outputQueueStatus(cmd.OutOrStdout(), format, status)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	cmd.Flags().Int64Var(&limit, "dlq-limit", 20, "Maximum dead letters to show")
	return cmd
}

func outputQueueStatus(out io.Writer, format config.OutputFormat, status queueStatus) error {
	if format != config.OutputFormatText {
		return writeStructured(out, format, status)
	}
	fmt.Fprintf(out, "Queue:  %s\nDepth:  %d\n", status.Queue, status.Depth)
	if len(status.DeadLetters) == 0 {
		fmt.Fprintln(out, "Dead letters: none")
		return nil
	}
	fmt.Fprintf(out, "\nDead letters (%d most recent):\n", len(status.DeadLetters))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  MOVED\tREASON")
	for _, dl := range status.DeadLetters {
		fmt.Fprintf(w, "  %s\t%s\n", dl.MovedAt.Format("2006-01-02 15:04:05"), truncateString(dl.Reason, 80))
	}
	return w.Flush()
}
