// Package batch runs batch audits: the completeness gate per transaction,
// bounded parallel per-material audits, and response assembly.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/binaudit/pkg/audit"
	"github.com/otherjamesbrown/binaudit/pkg/codec"
	auerrors "github.com/otherjamesbrown/binaudit/pkg/errors"
	"github.com/otherjamesbrown/binaudit/pkg/judge"
	"github.com/otherjamesbrown/binaudit/pkg/logging"
	"github.com/otherjamesbrown/binaudit/pkg/materials"
	"github.com/otherjamesbrown/binaudit/pkg/observability"
	"github.com/otherjamesbrown/binaudit/pkg/patterns"
)

// DefaultConcurrency is the default number of concurrent model calls per
// transaction.
const DefaultConcurrency = 4

// Audit stages reported in classified errors.
const (
	stageJudge     = "judge"
	stageNormalize = "normalize"
	stageResolve   = "resolve"
)

// Orchestrator runs batch audits. It is safe for concurrent use.
type Orchestrator struct {
	judge       judge.Judge
	catalog     *materials.Catalog
	auditor     *audit.Auditor
	normalizer  *audit.Normalizer
	engine      *patterns.Engine
	resolver    *patterns.Resolver
	concurrency int
	logger      logging.Logger
	metrics     *observability.AuditMetrics
	tracer      *observability.Tracer
	hook        StateHook
	now         func() time.Time
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithConcurrency caps concurrent model calls per transaction.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithCatalog sets the material catalog.
func WithCatalog(c *materials.Catalog) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.catalog = c
		}
	}
}

// WithPatterns sets the response pattern source.
func WithPatterns(r *patterns.Resolver) Option {
	return func(o *Orchestrator) {
		o.resolver = r
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *observability.AuditMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithStateHook observes state transitions.
func WithStateHook(h StateHook) Option {
	return func(o *Orchestrator) {
		o.hook = h
	}
}

// WithClock overrides the time source used for durations.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator calling j for per-material judgments.
func New(j judge.Judge, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		judge:       j,
		catalog:     materials.Default(),
		concurrency: DefaultConcurrency,
		logger:      logging.NewNopLogger(),
		tracer:      observability.NewTracer(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.auditor = audit.NewAuditor(o.catalog)
	o.normalizer = audit.NewNormalizer(o.catalog)
	o.engine = patterns.NewEngine(o.catalog, nil)
	o.logger = o.logger.With(logging.F("component", "batch_orchestrator"))
	return o
}

// Concurrency returns the per-transaction fan-out limit.
func (o *Orchestrator) Concurrency() int { return o.concurrency }

// Audit runs one batch. It returns an error only for a malformed request
// or when the organization's patterns cannot be loaded; per-material
// failures are reported as pe or ie verdicts in the response.
func (o *Orchestrator) Audit(ctx context.Context, req Request) (*Response, error) {
	started := o.now()

	evidence, err := req.validate(o.catalog)
	if err != nil {
		return nil, err
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.New().String()
	}

	ctx, span := o.tracer.StartBatchSpan(ctx, req.OrganizationID, batchID, len(req.Transactions))
	defer span.End()
	spanHelper := observability.NewSpanHelper(span)

	ctx = context.WithValue(ctx, logging.BatchIDKey, batchID)
	ctx = context.WithValue(ctx, logging.OrganizationIDKey, req.OrganizationID)
	ctx = context.WithValue(ctx, logging.TraceIDKey, observability.GetTraceID(ctx))
	log := o.logger.WithContext(ctx)

	// One read-only snapshot serves the whole batch.
	set, err := o.snapshot(ctx, req.OrganizationID)
	if err != nil {
		spanHelper.SetError(err, "patterns")
		return nil, err
	}

	resp := &Response{
		BatchID:        batchID,
		OrganizationID: req.OrganizationID,
		Transactions:   make([]TransactionResult, 0, len(req.Transactions)),
		Duration:       Durations{PerMaterialSeconds: map[materials.Key]float64{}},
	}

	for i, tx := range req.Transactions {
		resp.Transactions = append(resp.Transactions, o.auditTransaction(ctx, log, req, tx, evidence[i], set, resp))
	}

	for _, tx := range req.Transactions {
		o.transition(tx.ID, StateResponseAssembled, "")
	}

	elapsed := o.now().Sub(started)
	log.Info("Batch audited",
		logging.F("transactions", len(resp.Transactions)),
		logging.F("step_1_failed", resp.Summary.Step1Failed),
		logging.F("materials_audited", resp.Summary.Step2MaterialsAudited),
		logging.F("system_failures", resp.Failed()),
		logging.F("total_tokens", resp.TokenUsage.TotalTokens),
		logging.F("duration", elapsed))
	if o.metrics != nil {
		o.metrics.RecordBatch(req.OrganizationID, "completed", elapsed.Seconds())
	}
	spanHelper.SetSuccess()

	for _, tx := range req.Transactions {
		o.transition(tx.ID, StateReturned, "")
	}
	return resp, nil
}

func (o *Orchestrator) snapshot(ctx context.Context, organizationID string) (*patterns.Set, error) {
	if o.resolver == nil {
		return patterns.EmptySet(organizationID), nil
	}
	set, err := o.resolver.Snapshot(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("load response patterns: %w", err)
	}
	if o.metrics != nil {
		o.metrics.RecordPatternsSkipped(organizationID, len(set.Skipped()))
	}
	return set, nil
}

func (o *Orchestrator) auditTransaction(
	ctx context.Context,
	log logging.Logger,
	req Request,
	tx Transaction,
	present map[materials.Key]evidence,
	set *patterns.Set,
	resp *Response,
) TransactionResult {
	ctx, span := o.tracer.StartTransactionSpan(ctx, tx.ID)
	defer span.End()
	spanHelper := observability.NewSpanHelper(span)
	log = log.With(logging.F("transaction_id", tx.ID))

	o.transition(tx.ID, StateReceived, "")

	keys := make([]materials.Key, 0, len(present))
	for k := range present {
		keys = append(keys, k)
	}
	completeness := audit.CheckCompleteness(o.catalog, keys)
	o.transition(tx.ID, StateCompletenessChecked, "")
	spanHelper.SetState(string(StateCompletenessChecked))

	result := TransactionResult{TransactionID: tx.ID, Completeness: completeness}

	// Catalog order, independent of submission order.
	var dispatch []evidence
	for _, k := range completeness.Present {
		dispatch = append(dispatch, present[k])
	}

	if !completeness.Passed() {
		resp.Summary.Step1Failed++
		missing := make([]string, 0, len(completeness.Missing))
		for _, k := range completeness.Missing {
			missing = append(missing, string(k))
		}
		spanHelper.SetMissing(missing)
		if o.metrics != nil {
			o.metrics.RecordTransaction(req.OrganizationID, string(audit.CompletenessFail), missing)
		}
		log.Info("Transaction rejected at completeness gate", logging.F("missing", missing))

		for _, ev := range dispatch {
			v := audit.IncompleteVerdict(ev.material, completeness.Missing, req.Lang)
			result.Materials = append(result.Materials, o.materialResult(req, set, ev.material, v, true, "", 0))
		}
		o.transition(tx.ID, StateRejectedIncomplete, "")
		spanHelper.SetState(string(StateRejectedIncomplete))
		return result
	}

	resp.Summary.Step1Passed++
	if o.metrics != nil {
		o.metrics.RecordTransaction(req.OrganizationID, string(audit.CompletenessPass), nil)
	}
	o.transition(tx.ID, StateMaterialsDispatched, "")
	spanHelper.SetState(string(StateMaterialsDispatched))

	outcomes := make([]materialOutcome, len(dispatch))
	fanOutStart := o.now()

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, ev := range dispatch {
		g.Go(func() error {
			outcomes[i] = o.auditMaterial(ctx, log, req, tx.ID, ev)
			o.transition(tx.ID, StateMaterialResolved, string(ev.material.Key))
			return nil
		})
	}
	_ = g.Wait() // tasks never return errors

	resp.Duration.JudgmentSeconds += o.now().Sub(fanOutStart).Seconds()
	resp.Summary.Step2MaterialsAudited += len(dispatch)

	for i, out := range outcomes {
		key := dispatch[i].material.Key
		resp.TokenUsage.add(out.usage)
		resp.Duration.PerMaterialSeconds[key] += out.duration.Seconds()
		result.Materials = append(result.Materials,
			o.materialResult(req, set, dispatch[i].material, out.verdict, out.err == nil, errString(out.err), out.duration))
	}
	spanHelper.SetSuccess()
	return result
}

func (o *Orchestrator) materialResult(req Request, set *patterns.Set, m materials.Material, v audit.MaterialVerdict, success bool, errMsg string, d time.Duration) MaterialResult {
	msg := o.engine.Render(set, v, req.Lang)
	if o.metrics != nil {
		source := "pattern"
		if msg.Default {
			source = "default"
		}
		o.metrics.RecordMessage(req.OrganizationID, source)
	}
	return MaterialResult{
		Material:        m.Key,
		Success:         success,
		Verdict:         codec.Encode(v),
		Message:         msg,
		Error:           errMsg,
		DurationSeconds: d.Seconds(),
		verdict:         v,
	}
}

type materialOutcome struct {
	verdict  audit.MaterialVerdict
	usage    judge.Usage
	duration time.Duration
	err      *auerrors.AuditError
}

// auditMaterial runs one material from model call to verdict. Every failure,
// including a panic, ends in a pe or ie verdict.
func (o *Orchestrator) auditMaterial(ctx context.Context, log logging.Logger, req Request, txID int64, ev evidence) (out materialOutcome) {
	m := ev.material
	ctx, span := o.tracer.StartMaterialSpan(ctx, string(m.Key))
	defer span.End()
	spanHelper := observability.NewSpanHelper(span)

	start := o.now()
	fail := func(err error, stage string) materialOutcome {
		ae := auerrors.ClassifyError(err, stage)
		ae.Material = string(m.Key)
		code := audit.CodePE
		if ae.Code == auerrors.ErrImageError {
			code = audit.CodeIE
		}
		out.verdict = audit.FailureVerdict(m, code, req.Lang)
		out.err = ae
		out.duration = o.now().Sub(start)

		spanHelper.SetError(ae, string(ae.Code))
		log.Warn("Material audit failed",
			logging.F("material", string(m.Key)),
			logging.F("code", string(code)),
			logging.Err(ae))
		if o.metrics != nil {
			o.metrics.RecordSystemFailure(req.OrganizationID, string(m.Key), string(ae.Code))
			o.metrics.RecordVerdict(req.OrganizationID, string(m.Key), string(code), string(out.verdict.Status), 0, out.duration.Seconds())
		}
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			out = fail(fmt.Errorf("material audit panicked: %v", r), stageResolve)
		}
	}()

	callCtx, callSpan := o.tracer.StartJudgeSpan(ctx)
	callStart := o.now()
	resp, err := o.callJudge(callCtx, judge.Request{
		OrganizationID: req.OrganizationID,
		TransactionID:  txID,
		Material:       m.Key,
		MaterialID:     m.ID,
		Images:         ev.images,
		Lang:           req.Lang,
	})
	latency := o.now().Sub(callStart)
	observability.NewSpanHelper(callSpan).SetJudgeResult(resp.Usage.InputTokens, resp.Usage.OutputTokens, latency.Milliseconds())
	callSpan.End()
	out.usage = resp.Usage

	if o.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		o.metrics.RecordJudgeCall(req.OrganizationID, status, latency.Seconds(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	if err != nil {
		return fail(err, stageJudge)
	}

	j, err := o.normalizer.Normalize(m.Key, resp.Output)
	if err != nil {
		return fail(err, stageNormalize)
	}

	v, err := o.auditor.Audit(j, req.Lang)
	if err != nil {
		return fail(auerrors.NewParseError(stageResolve, err.Error(), err), stageResolve)
	}

	out.verdict = v
	out.duration = o.now().Sub(start)
	spanHelper.SetVerdict(string(v.Code), string(v.Severity), v.Confidence)
	spanHelper.SetSuccess()
	log.Debug("Material audited",
		logging.F("material", string(m.Key)),
		logging.F("code", string(v.Code)),
		logging.F("confidence", v.Confidence))
	if o.metrics != nil {
		o.metrics.RecordVerdict(req.OrganizationID, string(m.Key), string(v.Code), string(v.Status), v.Confidence, out.duration.Seconds())
	}
	return out
}

// callJudge invokes the judge and reports a panic as an error.
func (o *Orchestrator) callJudge(ctx context.Context, req judge.Request) (resp judge.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = judge.Response{}, fmt.Errorf("judge panicked: %v", r)
		}
	}()
	return o.judge.Judge(ctx, req)
}

func (o *Orchestrator) transition(txID int64, s State, material string) {
	if o.hook != nil {
		o.hook(txID, s, material)
	}
}

func errString(err *auerrors.AuditError) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
