package agentapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takumin/cloudcase/internal/model"
)

func TestInferAssessment_StructOutputMap(t *testing.T) {
	res := AgentResult{
		StructOutput: map[string]any{"status": "fail", "reason": "button missing"},
		Content:      `{"status": "pass"}`,
	}
	a, ok := InferAssessment(res)
	require.True(t, ok)
	assert.Equal(t, model.StatusFail, a.Status)
	assert.Equal(t, "button missing", a.Reason)
}

func TestInferAssessment_StructOutputJSONString(t *testing.T) {
	res := AgentResult{StructOutput: `{"status": "skip", "reason": "feature disabled"}`}
	a, ok := InferAssessment(res)
	require.True(t, ok)
	assert.Equal(t, model.StatusSkip, a.Status)
}

func TestInferAssessment_ContentTrailingObject(t *testing.T) {
	res := AgentResult{
		Content: `I tapped through the flow and everything rendered.
Final verdict: {"status": "pass", "reason": "all steps completed"}`,
	}
	a, ok := InferAssessment(res)
	require.True(t, ok)
	assert.Equal(t, model.StatusPass, a.Status)
	assert.Equal(t, "all steps completed", a.Reason)
}

func TestInferAssessment_ContentLastObjectWins(t *testing.T) {
	res := AgentResult{
		Content: `first attempt {"status": "fail", "reason": "flaky"} retried and then {"status": "pass"}`,
	}
	a, ok := InferAssessment(res)
	require.True(t, ok)
	assert.Equal(t, model.StatusPass, a.Status)
}

func TestInferAssessment_EscapedQuotes(t *testing.T) {
	res := AgentResult{
		Content: `the tool returned "{\"status\": \"fail\", \"reason\": \"dialog blocked\"}"`,
	}
	a, ok := InferAssessment(res)
	require.True(t, ok)
	assert.Equal(t, model.StatusFail, a.Status)
	assert.Equal(t, "dialog blocked", a.Reason)
}

func TestInferAssessment_NestedBraces(t *testing.T) {
	res := AgentResult{
		Content: `result {"status": "fail", "reason": "got {unexpected} output", "extra": {"k": "v"}}`,
	}
	a, ok := InferAssessment(res)
	require.True(t, ok)
	assert.Equal(t, model.StatusFail, a.Status)
	assert.Equal(t, "got {unexpected} output", a.Reason)
}

func TestInferAssessment_None(t *testing.T) {
	for _, content := range []string{
		"",
		"no verdict here",
		`{"status": "maybe"}`,
		`{"status": "pass"`, // unbalanced
	} {
		_, ok := InferAssessment(AgentResult{Content: content})
		assert.False(t, ok, content)
	}
}

func TestExtractJSONObject(t *testing.T) {
	obj, ok := extractJSONObject(`{"a": "}", "b": {"c": 1}} trailing`)
	require.True(t, ok)
	assert.Equal(t, `{"a": "}", "b": {"c": 1}}`, obj)

	_, ok = extractJSONObject(`{"a": 1`)
	assert.False(t, ok)
}

func TestSignalFromStep(t *testing.T) {
	assert.Equal(t, model.SignalFinished, SignalFromStep("FINISHED", nil))
	assert.Equal(t, model.SignalFinished, SignalFromStep(" finished ", nil))
	assert.Equal(t, model.SignalRequestUser, SignalFromStep("REQUEST_USER", nil))
	assert.Equal(t, model.SignalRequestUser, SignalFromStep("RUNNING", []byte(`{"hint":"REQUEST_USER"}`)))
	assert.Equal(t, model.SignalNotConverged, SignalFromStep("RUNNING", []byte(`{"step":3}`)))
	assert.Equal(t, model.SignalNotConverged, SignalFromStep("", nil))
}
