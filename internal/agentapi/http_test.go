package agentapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takumin/cloudcase/internal/model"
)

type noopSigner struct{}

func (noopSigner) Sign(req *http.Request, body []byte) error { return nil }

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(HTTPConfig{
		Host:      srv.URL,
		ProductID: "prod-1",
		Signer:    noopSigner{},
		Timeout:   5 * time.Second,
	})
}

func TestStartTask_ResultEnvelope(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "RunAgentTask", r.URL.Query().Get("Action"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"ResponseMetadata": {}, "Result": {"AgentRunId": "run-42"}}`))
	})

	runID, err := client.StartTask(context.Background(), StartTaskInput{
		RunName: "login", PodID: "pod-1", Prompt: "do the thing", Timeout: 90 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "run-42", runID)

	assert.Equal(t, "prod-1", gotBody["ProductId"])
	assert.Equal(t, "pod-1", gotBody["PodId"])
	assert.Equal(t, "do the thing", gotBody["Prompt"])
	assert.Equal(t, float64(90), gotBody["TimeoutSeconds"])
	assert.NotEmpty(t, gotBody["ThreadId"])
	_, hasSystem := gotBody["SystemPrompt"]
	assert.False(t, hasSystem)
}

func TestStartTask_TopLevelPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"RunId": "run-7"}`))
	})
	runID, err := client.StartTask(context.Background(), StartTaskInput{RunName: "x", PodID: "p", Prompt: "y"})
	require.NoError(t, err)
	assert.Equal(t, "run-7", runID)
}

func TestStartTask_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ResponseMetadata": {"Error": {"Code": "InvalidPod", "Message": "no such pod"}}}`))
	})
	_, err := client.StartTask(context.Background(), StartTaskInput{RunName: "x", PodID: "p", Prompt: "y"})
	require.Error(t, err)
	var rce *RemoteCallError
	require.ErrorAs(t, err, &rce)
	assert.Equal(t, "RunAgentTask", rce.Action)
	assert.Contains(t, err.Error(), "InvalidPod")
}

func TestStartTask_MissingRunID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Result": {}}`))
	})
	_, err := client.StartTask(context.Background(), StartTaskInput{RunName: "x", PodID: "p", Prompt: "y"})
	var rce *RemoteCallError
	require.ErrorAs(t, err, &rce)
}

func TestPollStep(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Result": {"Status": "FINISHED"}}`))
	})
	step, err := client.PollStep(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.SignalFinished, step.Signal)
	assert.Equal(t, "FINISHED", step.Status)
}

func TestPollStep_NestedStepStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Result": {"Step": {"Status": "RUNNING"}}}`))
	})
	step, err := client.PollStep(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.SignalNotConverged, step.Signal)
	assert.Equal(t, "RUNNING", step.Status)
}

func TestFetchResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Result": {
			"Outcome": "1",
			"Content": "done",
			"Screenshots": {"step_2": "https://s/2.png", "step_1": "https://s/1.png"},
			"RecordingUrl": "pending",
			"Usage": {"InputTokens": 120, "OutputTokens": "34"}
		}}`))
	})
	res, err := client.FetchResult(context.Background(), "run-1", true)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "done", res.Content)
	assert.Equal(t, []string{"https://s/1.png", "https://s/2.png"}, res.Screenshots)
	// Non-https recording falls back to the first screenshot.
	assert.Equal(t, "https://s/1.png", res.VideoURL)
	require.NotNil(t, res.InTokens)
	assert.Equal(t, 120, *res.InTokens)
	require.NotNil(t, res.OutTokens)
	assert.Equal(t, 34, *res.OutTokens)
}

func TestFetchResult_OutcomeOutOfRange(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Result": {"Outcome": 99}}`))
	})
	res, err := client.FetchResult(context.Background(), "run-1", false)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeUnknownError, res.Outcome)
}

func TestCancelTask(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CancelAgentTask", r.URL.Query().Get("Action"))
		w.Write([]byte(`{"Result": {"Detail": "cancel scheduled"}}`))
	})
	receipt, err := client.CancelTask(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, receipt.Accepted)
	assert.Equal(t, "cancel scheduled", receipt.Detail)
}

func TestCancelTask_EmptyDetailNotAccepted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Result": {}}`))
	})
	receipt, err := client.CancelTask(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, receipt.Accepted)
}

func TestValidatePods(t *testing.T) {
	pods := map[string]string{
		"pod-1": `{"Result": {"PodId": "pod-1", "ProductId": "prod-1", "ImageId": "img-1"}}`,
		"pod-2": `{"Result": {"PodId": "pod-2", "ProductId": "prod-1", "ImageId": ""}}`,
		"pod-3": `{"Result": {"PodId": "pod-3", "ProductId": "other", "ImageId": "img-3"}}`,
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(pods[body["PodId"].(string)]))
	})

	ctx := context.Background()
	assert.NoError(t, ValidatePods(ctx, client, "prod-1", []string{"pod-1"}))

	err := ValidatePods(ctx, client, "prod-1", []string{"pod-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image")

	err = ValidatePods(ctx, client, "prod-1", []string{"pod-3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "product")
}

func TestHMACSignerSetsHeaders(t *testing.T) {
	var auth, date string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		date = r.Header.Get("X-Date")
		w.Write([]byte(`{"Result": {"Detail": "ok"}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{
		Host: srv.URL, ProductID: "prod-1",
		AccessKey: "ak", SecretKey: "sk",
	})
	_, err := client.CancelTask(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Contains(t, auth, "HMAC-SHA256 AccessKey=ak")
	assert.NotEmpty(t, date)
}

func TestFlexInt(t *testing.T) {
	var f flexInt
	require.NoError(t, json.Unmarshal([]byte(`5`), &f))
	assert.Equal(t, flexInt(5), f)
	require.NoError(t, json.Unmarshal([]byte(`"12"`), &f))
	assert.Equal(t, flexInt(12), f)
	require.NoError(t, json.Unmarshal([]byte(`null`), &f))
	assert.Equal(t, flexInt(0), f)
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &f))
}
