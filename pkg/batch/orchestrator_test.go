package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/goleak"

	"github.com/otherjamesbrown/binaudit/pkg/audit"
	auerrors "github.com/otherjamesbrown/binaudit/pkg/errors"
	"github.com/otherjamesbrown/binaudit/pkg/judge"
	"github.com/otherjamesbrown/binaudit/pkg/materials"
	"github.com/otherjamesbrown/binaudit/pkg/observability"
	"github.com/otherjamesbrown/binaudit/pkg/patterns"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedJudge answers per material and counts calls.
type scriptedJudge struct {
	calls   atomic.Int32
	outputs map[materials.Key]string
	errs    map[materials.Key]error
	usage   judge.Usage
}

func (s *scriptedJudge) Judge(_ context.Context, req judge.Request) (judge.Response, error) {
	s.calls.Add(1)
	if err := s.errs[req.Material]; err != nil {
		return judge.Response{Usage: s.usage}, err
	}
	out, ok := s.outputs[req.Material]
	if !ok {
		out = fmt.Sprintf(`{"detected_type":%q,"confidence":0.95}`, req.Material)
	}
	return judge.Response{Output: []byte(out), Usage: s.usage}, nil
}

func submissions(keys ...string) []Submission {
	out := make([]Submission, 0, len(keys))
	for _, k := range keys {
		out = append(out, Submission{Material: k, Images: []string{"s3://evidence/" + k + ".jpg"}})
	}
	return out
}

func request(txs ...Transaction) Request {
	return Request{BatchID: "batch-1", OrganizationID: "org-1", Lang: "en", Transactions: txs}
}

func TestAudit_CompletenessGate(t *testing.T) {
	j := &scriptedJudge{}
	o := New(j)

	resp, err := o.Audit(context.Background(), request(Transaction{ID: 1, Submissions: submissions("general", "organic")}))
	require.NoError(t, err)

	assert.Equal(t, int32(0), j.calls.Load(), "no step 2 call for an incomplete transaction")
	require.Len(t, resp.Transactions, 1)
	tx := resp.Transactions[0]
	assert.Equal(t, audit.CompletenessFail, tx.Completeness.Status)
	assert.Equal(t, []materials.Key{materials.Recyclable}, tx.Completeness.Missing)

	require.Len(t, tx.Materials, 2)
	for _, m := range tx.Materials {
		v := m.MaterialVerdict()
		assert.Equal(t, audit.CodeNCM, v.Code)
		assert.Equal(t, audit.StatusReject, v.Status)
		assert.Equal(t, audit.SeverityCritical, v.Severity)
		assert.Equal(t, []string{"recyclables"}, v.WrongItems)
		assert.Equal(t, "ncm", m.Verdict.Result.Code)
		assert.True(t, m.Success)
	}
	assert.Equal(t, Summary{Step1Passed: 0, Step1Failed: 1, Step2MaterialsAudited: 0}, resp.Summary)
	assert.Equal(t, TokenUsage{}, resp.TokenUsage)
}

func TestAudit_Scenarios(t *testing.T) {
	j := &scriptedJudge{
		outputs: map[materials.Key]string{
			materials.Recyclable: `{"detected_type":"recyclable","confidence":0.93,"contamination":0.1,
				"issues":[{"type":"lc","items":["light stain on bottle label"]}]}`,
			materials.Hazardous: `{"detected_type":"hazardous","confidence":0.8,"contamination":0.7,
				"issues":[{"type":"hc","items":["leaking battery"]}]}`,
			materials.General: `{"detected_type":"organic","confidence":0.91,
				"issues":[{"type":"wc","items":["banana peel"]},{"type":"lc","items":["sauce"]}]}`,
		},
		usage: judge.Usage{InputTokens: 100, OutputTokens: 10},
	}
	o := New(j)

	// Submission order differs from catalog order on purpose.
	resp, err := o.Audit(context.Background(), request(Transaction{
		ID: 7, Submissions: submissions("hazardous", "recyclable", "organic", "general"),
	}))
	require.NoError(t, err)
	assert.Equal(t, int32(4), j.calls.Load())

	tx := resp.Transactions[0]
	require.Len(t, tx.Materials, 4)
	order := []materials.Key{}
	for _, m := range tx.Materials {
		order = append(order, m.Material)
		assert.True(t, m.Success)
		assert.NoError(t, m.MaterialVerdict().Validate())
	}
	assert.Equal(t, []materials.Key{materials.General, materials.Organic, materials.Recyclable, materials.Hazardous}, order)

	general := tx.Materials[0]
	assert.Equal(t, 94, general.Verdict.ClaimedType)
	assert.Equal(t, "r", general.Verdict.Status)
	assert.Equal(t, "wc", general.Verdict.Result.Code)
	assert.Equal(t, "c", general.Verdict.Result.Severity)
	assert.Equal(t, "77", general.Verdict.Result.Detail.DetectedType)
	assert.Equal(t, []string{"banana peel"}, general.Verdict.Result.Detail.WrongItems)

	organic := tx.Materials[1]
	assert.Equal(t, "cc", organic.Verdict.Result.Code)
	assert.Equal(t, []string{}, organic.Verdict.Result.Detail.WrongItems)

	recyclable := tx.Materials[2]
	assert.Equal(t, 298, recyclable.Verdict.ClaimedType)
	assert.Equal(t, "a", recyclable.Verdict.Status)
	assert.Equal(t, "lc", recyclable.Verdict.Result.Code)
	assert.Equal(t, "m", recyclable.Verdict.Result.Severity)
	assert.Equal(t, 0.93, recyclable.Verdict.Confidence)
	assert.Equal(t, []string{"light stain on bottle label"}, recyclable.Verdict.Result.Detail.WrongItems)

	hazardous := tx.Materials[3]
	assert.Equal(t, "r", hazardous.Verdict.Status)
	assert.Equal(t, "hc", hazardous.Verdict.Result.Code)
	assert.Equal(t, "c", hazardous.Verdict.Result.Severity)

	assert.Equal(t, TokenUsage{InputTokens: 400, OutputTokens: 40, TotalTokens: 440}, resp.TokenUsage)
	assert.Equal(t, Summary{Step1Passed: 1, Step1Failed: 0, Step2MaterialsAudited: 4}, resp.Summary)
	assert.Len(t, resp.Duration.PerMaterialSeconds, 4)
	assert.Equal(t, 2, resp.Rejected())
	assert.Equal(t, 0, resp.Failed())
}

func TestAudit_FailureIsolation(t *testing.T) {
	j := &scriptedJudge{
		outputs: map[materials.Key]string{
			materials.Organic: `{"detected_type":`,
		},
		errs: map[materials.Key]error{
			materials.Recyclable: fmt.Errorf("fetch: %w", auerrors.ErrEvidenceUnavailable),
			materials.Hazardous:  context.DeadlineExceeded,
		},
		usage: judge.Usage{InputTokens: 5, OutputTokens: 1},
	}
	o := New(j)

	resp, err := o.Audit(context.Background(), request(Transaction{
		ID: 3, Submissions: submissions("general", "organic", "recyclable", "hazardous"),
	}))
	require.NoError(t, err)

	got := map[materials.Key]MaterialResult{}
	for _, m := range resp.Transactions[0].Materials {
		got[m.Material] = m
	}

	assert.True(t, got[materials.General].Success)
	assert.Equal(t, "cc", got[materials.General].Verdict.Result.Code)

	for key, wantCode := range map[materials.Key]audit.Code{
		materials.Organic:    audit.CodePE,
		materials.Recyclable: audit.CodeIE,
		materials.Hazardous:  audit.CodePE,
	} {
		m := got[key]
		v := m.MaterialVerdict()
		assert.False(t, m.Success, key)
		assert.NotEmpty(t, m.Error, key)
		assert.Equal(t, wantCode, v.Code, key)
		assert.Equal(t, 0.0, v.Confidence, key)
		assert.Equal(t, "0", v.DetectedTypeID, key)
		assert.Equal(t, audit.StatusReject, v.Status, key)
		assert.Equal(t, []string{audit.Describe(wantCode, "en")}, v.WrongItems, key)
	}

	assert.Equal(t, 3, resp.Failed())
	assert.Equal(t, 4, resp.Summary.Step2MaterialsAudited)
	assert.Equal(t, 24, resp.TokenUsage.TotalTokens, "usage counted for failed calls too")
}

func TestAudit_JudgePanicBecomesParseError(t *testing.T) {
	j := judge.Func(func(_ context.Context, req judge.Request) (judge.Response, error) {
		if req.Material == materials.Organic {
			panic("boom")
		}
		return judge.Response{Output: []byte(fmt.Sprintf(`{"detected_type":%q,"confidence":1}`, req.Material))}, nil
	})

	resp, err := New(j).Audit(context.Background(), request(Transaction{ID: 1, Submissions: submissions("general", "organic", "recyclable")}))
	require.NoError(t, err)
	organic := resp.Transactions[0].Materials[1]
	assert.Equal(t, materials.Organic, organic.Material)
	assert.False(t, organic.Success)
	assert.Equal(t, audit.CodePE, organic.MaterialVerdict().Code)
}

// spanCounter is a no-op tracer provider that counts started and ended spans
// by name.
type spanCounter struct {
	noop.TracerProvider
	mu      sync.Mutex
	started map[string]int
	ended   map[string]int
}

func newSpanCounter() *spanCounter {
	return &spanCounter{started: map[string]int{}, ended: map[string]int{}}
}

func (c *spanCounter) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return countingTracer{c: c}
}

func (c *spanCounter) counts(name string) (started, ended int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started[name], c.ended[name]
}

type countingTracer struct {
	noop.Tracer
	c *spanCounter
}

func (t countingTracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	t.c.mu.Lock()
	t.c.started[name]++
	t.c.mu.Unlock()
	s := countingSpan{c: t.c, name: name}
	return trace.ContextWithSpan(ctx, s), s
}

type countingSpan struct {
	noop.Span
	c    *spanCounter
	name string
}

func (s countingSpan) End(...trace.SpanEndOption) {
	s.c.mu.Lock()
	s.c.ended[s.name]++
	s.c.mu.Unlock()
}

func TestAudit_JudgePanicStillClosesCall(t *testing.T) {
	j := judge.Func(func(_ context.Context, req judge.Request) (judge.Response, error) {
		if req.Material == materials.Organic {
			panic("boom")
		}
		return judge.Response{Output: []byte(fmt.Sprintf(`{"detected_type":%q,"confidence":1}`, req.Material))}, nil
	})
	reg := prometheus.NewRegistry()
	spans := newSpanCounter()

	resp, err := New(j,
		WithMetrics(observability.NewAuditMetrics(reg)),
		WithTracer(observability.NewTracerFromProvider(spans)),
	).Audit(context.Background(), request(Transaction{ID: 1, Submissions: submissions("general", "organic", "recyclable")}))
	require.NoError(t, err)
	assert.Equal(t, audit.CodePE, resp.Transactions[0].Materials[1].MaterialVerdict().Code)

	started, ended := spans.counts(observability.SpanJudgeCall)
	assert.Equal(t, 3, started)
	assert.Equal(t, 3, ended, "every judge span ends, including the panicking call")

	assert.Equal(t, 1.0, counterValue(t, reg, "binaudit_judge_calls_total",
		map[string]string{"organization_id": "org-1", "status": "error"}))
	assert.Equal(t, 2.0, counterValue(t, reg, "binaudit_judge_calls_total",
		map[string]string{"organization_id": "org-1", "status": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "binaudit_system_failures_total",
		map[string]string{"material": "organic", "error_type": "parse_error"}))
}

func TestAudit_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	var once sync.Once

	j := judge.Func(func(_ context.Context, req judge.Request) (judge.Response, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		if n >= 2 {
			once.Do(func() { close(release) })
		}
		select {
		case <-release:
		case <-time.After(time.Second):
		}
		return judge.Response{Output: []byte(fmt.Sprintf(`{"detected_type":%q,"confidence":1}`, req.Material))}, nil
	})

	o := New(j, WithConcurrency(2))
	assert.Equal(t, 2, o.Concurrency())
	_, err := o.Audit(context.Background(), request(Transaction{ID: 1, Submissions: submissions("general", "organic", "recyclable", "hazardous")}))
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestAudit_Preconditions(t *testing.T) {
	o := New(&scriptedJudge{})
	ctx := context.Background()

	tests := map[string]Request{
		"no transactions":          request(),
		"no materials":             request(Transaction{ID: 1}),
		"materials with no images": request(Transaction{ID: 1, Submissions: []Submission{{Material: "general"}}}),
		"unknown material":         request(Transaction{ID: 1, Submissions: submissions("glass")}),
		"duplicate material":       request(Transaction{ID: 1, Submissions: submissions("general", "94")}),
		"duplicate transaction":    request(Transaction{ID: 1, Submissions: submissions("general")}, Transaction{ID: 1, Submissions: submissions("general")}),
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := o.Audit(ctx, req)
			require.Error(t, err)
			assert.True(t, auerrors.IsValidation(err))
		})
	}
}

func TestAudit_StateTransitions(t *testing.T) {
	var mu sync.Mutex
	seen := map[int64][]State{}
	hook := func(tx int64, s State, _ string) {
		mu.Lock()
		defer mu.Unlock()
		seen[tx] = append(seen[tx], s)
	}

	o := New(&scriptedJudge{}, WithStateHook(hook))
	_, err := o.Audit(context.Background(), request(
		Transaction{ID: 1, Submissions: submissions("general")},
		Transaction{ID: 2, Submissions: submissions("general", "organic", "recyclable")},
	))
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateReceived, StateCompletenessChecked, StateRejectedIncomplete,
		StateResponseAssembled, StateReturned,
	}, seen[1])
	assert.Equal(t, []State{
		StateReceived, StateCompletenessChecked, StateMaterialsDispatched,
		StateMaterialResolved, StateMaterialResolved, StateMaterialResolved,
		StateResponseAssembled, StateReturned,
	}, seen[2])
}

func TestAudit_PatternsLoadedOncePerBatch(t *testing.T) {
	var loads atomic.Int32
	repo := patterns.RepositoryFunc(func(_ context.Context, org string) ([]patterns.ResponsePattern, error) {
		loads.Add(1)
		return []patterns.ResponsePattern{
			{ID: 1, OrganizationID: org, Priority: 20, Condition: audit.CodeCC, Template: "low", IsActive: true},
			{ID: 2, OrganizationID: org, Priority: 10, Condition: audit.CodeCC, Template: "Nice {{claimed_type}}!", IsActive: true},
		}, nil
	})
	o := New(&scriptedJudge{}, WithPatterns(patterns.NewResolver(repo, patterns.WithCacheTTL(0))))

	resp, err := o.Audit(context.Background(), request(
		Transaction{ID: 1, Submissions: submissions("general", "organic", "recyclable")},
		Transaction{ID: 2, Submissions: submissions("general", "organic", "recyclable")},
	))
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load())

	msg := resp.Transactions[1].Materials[0].Message
	assert.Equal(t, "Nice general waste!", msg.Text)
	assert.Equal(t, int64(2), msg.PatternID)
}

func TestAudit_PatternLoadFailure(t *testing.T) {
	repo := patterns.RepositoryFunc(func(context.Context, string) ([]patterns.ResponsePattern, error) {
		return nil, errors.New("db down")
	})
	j := &scriptedJudge{}
	_, err := New(j, WithPatterns(patterns.NewResolver(repo))).Audit(context.Background(),
		request(Transaction{ID: 1, Submissions: submissions("general", "organic", "recyclable")}))
	require.Error(t, err)
	assert.Equal(t, int32(0), j.calls.Load())
}

func TestAudit_RecordAndJSON(t *testing.T) {
	o := New(&scriptedJudge{usage: judge.Usage{InputTokens: 2, OutputTokens: 1}})
	resp, err := o.Audit(context.Background(), request(
		Transaction{ID: 11, Submissions: submissions("general", "organic", "recyclable")},
		Transaction{ID: 12, Submissions: submissions("organic")},
	))
	require.NoError(t, err)

	rec := resp.Record()
	assert.Equal(t, []int64{11, 12}, rec.TransactionIDs)
	require.Len(t, rec.Transactions, 2)
	assert.Len(t, rec.Transactions[0].PerMaterial, 3)
	assert.Equal(t, audit.CodeNCM, rec.Transactions[1].PerMaterial[materials.Organic].Code)
	assert.Equal(t, TokenUsage{InputTokens: 6, OutputTokens: 3, TotalTokens: 9}, rec.TokenUsage)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "token_usage")
	assert.Contains(t, decoded, "summary")
	summary := decoded["summary"].(map[string]interface{})
	assert.Equal(t, 1.0, summary["step_1_passed"])
	assert.Equal(t, 1.0, summary["step_1_failed"])
	assert.Equal(t, 3.0, summary["step_2_materials_audited"])
}

func TestAudit_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewAuditMetrics(reg)
	j := &scriptedJudge{errs: map[materials.Key]error{materials.Organic: errors.New("photo download failed")}}

	_, err := New(j, WithMetrics(metrics)).Audit(context.Background(),
		request(Transaction{ID: 1, Submissions: submissions("general", "organic", "recyclable")}))
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, reg, "binaudit_batches_total",
		map[string]string{"organization_id": "org-1", "status": "completed"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "binaudit_system_failures_total",
		map[string]string{"material": "organic", "error_type": "image_error"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "binaudit_verdicts_total",
		map[string]string{"material": "general", "code": "cc", "status": "approve"}))
	assert.Equal(t, 3.0, counterValue(t, reg, "binaudit_messages_rendered_total",
		map[string]string{"source": "default"}))
}

// counterValue sums the counters of family name whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched == len(want) {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func TestAudit_CustomCatalog(t *testing.T) {
	catalog, err := materials.New(
		materials.Material{Key: materials.General, ID: 94, Mandatory: true},
		materials.Material{Key: materials.Hazardous, ID: 113, ContaminationChecked: true},
	)
	require.NoError(t, err)

	j := &scriptedJudge{outputs: map[materials.Key]string{
		materials.Hazardous: `{"detected_type":"hazardous","confidence":0.9,"contamination":0.8,"issues":[{"type":"hc","items":["leaking battery"]}]}`,
	}}
	o := New(j, WithCatalog(catalog))

	resp, err := o.Audit(context.Background(), request(Transaction{ID: 9, Submissions: submissions("hazardous", "general")}))
	require.NoError(t, err)

	tx := resp.Transactions[0]
	assert.True(t, tx.Completeness.Passed(), "only general is mandatory in this catalog")
	require.Len(t, tx.Materials, 2)
	assert.Equal(t, materials.General, tx.Materials[0].Material, "catalog order")
	assert.Equal(t, audit.CodeCC, tx.Materials[0].MaterialVerdict().Code)

	hz := tx.Materials[1].MaterialVerdict()
	assert.Equal(t, audit.CodeHC, hz.Code)
	assert.Equal(t, 113, hz.ClaimedTypeID)
	assert.Equal(t, []string{"leaking battery"}, hz.WrongItems)
}
