package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/binaudit/pkg/batch"
	"github.com/otherjamesbrown/binaudit/pkg/judge"
	"github.com/otherjamesbrown/binaudit/pkg/observability"
)

type published struct {
	channel string
	payload []byte
}

type fakeClient struct {
	sent   []published
	err    error
	closed bool
}

func (f *fakeClient) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.sent = append(f.sent, published{channel: channel, payload: message.([]byte)})
	return redis.NewIntResult(1, nil)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func auditedResponse(t *testing.T) *batch.Response {
	t.Helper()
	j := judge.Func(func(_ context.Context, req judge.Request) (judge.Response, error) {
		if req.Material == "hazardous" {
			return judge.Response{Usage: judge.Usage{InputTokens: 3}}, errors.New("model error: overloaded")
		}
		out := fmt.Sprintf(`{"detected_type":%q,"confidence":0.9}`, req.Material)
		return judge.Response{Output: []byte(out), Usage: judge.Usage{InputTokens: 10, OutputTokens: 2}}, nil
	})
	sub := func(m string) batch.Submission {
		return batch.Submission{Material: m, Images: []string{m + ".jpg"}}
	}
	resp, err := batch.New(j).Audit(context.Background(), batch.Request{
		BatchID:        "batch-7",
		OrganizationID: "org-1",
		Transactions: []batch.Transaction{
			{ID: 1, Submissions: []batch.Submission{sub("general"), sub("organic"), sub("recyclable"), sub("hazardous")}},
			{ID: 2, Submissions: []batch.Submission{sub("general")}},
		},
	})
	require.NoError(t, err)
	return resp
}

func TestPublishBatchCompleted(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, nil)

	require.NoError(t, p.PublishBatchCompleted(context.Background(), auditedResponse(t), 1500*time.Millisecond))
	require.Len(t, client.sent, 1)
	assert.Equal(t, observability.ChannelBatchCompleted, client.sent[0].channel)

	var event observability.BatchCompletedEvent
	require.NoError(t, json.Unmarshal(client.sent[0].payload, &event))
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "org-1", event.OrganizationID)
	assert.Equal(t, "batch-7", event.BatchID)
	assert.Equal(t, []int64{1, 2}, event.TransactionIDs)
	assert.Equal(t, 1, event.Step1Passed)
	assert.Equal(t, 1, event.Step1Failed)
	assert.Equal(t, 4, event.Step2MaterialsAudited)
	assert.Equal(t, 1, event.SystemFailures)
	// The pe material and the ncm verdict of transaction 2 are rejected.
	assert.Equal(t, 2, event.Rejected)
	assert.Equal(t, 3*12+3, event.TotalTokens)
	assert.Equal(t, int64(1500), event.DurationMs)
}

func TestPublishAuditFailed(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, nil)

	require.NoError(t, p.PublishAuditFailed(context.Background(), "org-1", "req-1", "permanent", errors.New("batch has no transactions"), 1))
	require.Len(t, client.sent, 1)
	assert.Equal(t, observability.ChannelAuditFailed, client.sent[0].channel)

	var event observability.AuditFailedEvent
	require.NoError(t, json.Unmarshal(client.sent[0].payload, &event))
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, "permanent", event.ErrorType)
	assert.Equal(t, "batch has no transactions", event.ErrorMessage)
	assert.Equal(t, 1, event.Attempts)
}

func TestPublish_ClientError(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}
	p := NewPublisher(client, nil)

	err := p.PublishAuditFailed(context.Background(), "org-1", "req-1", "dependency", nil, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), observability.ChannelAuditFailed)

	require.NoError(t, p.Close())
	assert.True(t, client.closed)
}
