package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/binaudit/pkg/batch"
	"github.com/otherjamesbrown/binaudit/pkg/db"
	"github.com/otherjamesbrown/binaudit/pkg/judge"
)

func auditedResponse(t *testing.T, org string) *batch.Response {
	t.Helper()
	j := judge.Func(func(_ context.Context, req judge.Request) (judge.Response, error) {
		if req.Material == "recyclable" {
			return judge.Response{}, errors.New("model error: overloaded")
		}
		out := fmt.Sprintf(`{"detected_type":%q,"confidence":0.88}`, req.Material)
		return judge.Response{Output: []byte(out), Usage: judge.Usage{InputTokens: 7, OutputTokens: 1}}, nil
	})
	sub := func(m string) batch.Submission {
		return batch.Submission{Material: m, Images: []string{m + ".jpg"}}
	}
	resp, err := batch.New(j).Audit(context.Background(), batch.Request{
		BatchID:        "batch-" + uuid.New().String()[:8],
		OrganizationID: org,
		Transactions: []batch.Transaction{
			{ID: 11, Submissions: []batch.Submission{sub("general"), sub("organic"), sub("recyclable")}},
		},
	})
	require.NoError(t, err)
	return resp
}

func TestNewRun(t *testing.T) {
	resp := auditedResponse(t, "org-1")

	run, err := NewRun("req-1", resp)
	require.NoError(t, err)

	assert.Equal(t, "req-1", run.RequestID)
	assert.Equal(t, resp.BatchID, run.BatchID)
	assert.Equal(t, []int64{11}, run.TransactionIDs)
	assert.Equal(t, 1, run.Step1Passed)
	assert.Equal(t, 3, run.MaterialsAudited)
	assert.Equal(t, 1, run.Rejected)
	assert.Equal(t, 1, run.SystemFailures)
	assert.Equal(t, 14, run.InputTokens)
	assert.Equal(t, 2, run.OutputTokens)

	var rec batch.Record
	require.NoError(t, json.Unmarshal(run.Record, &rec))
	assert.Equal(t, resp.BatchID, rec.BatchID)
	require.Len(t, rec.Transactions, 1)
	assert.Len(t, rec.Transactions[0].PerMaterial, 3)
}

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	if os.Getenv("DB_HOST") == "" {
		t.Skip("DB_HOST not set")
	}
	ctx := context.Background()

	store, err := Open(db.ConfigFromEnv().ConnectionString())
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.EnsureSchema(ctx))

	org := "org-" + uuid.New().String()
	resp := auditedResponse(t, org)
	require.NoError(t, store.RecordBatch(ctx, "req-1", resp))

	runs, err := store.Recent(ctx, org, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, resp.BatchID, runs[0].BatchID)
	assert.Equal(t, []int64{11}, runs[0].TransactionIDs)
	assert.NotZero(t, runs[0].ID)
	assert.False(t, runs[0].CreatedAt.IsZero())
}
