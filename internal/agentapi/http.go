package agentapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/takumin/cloudcase/internal/model"
)

const (
	actionStartTask   = "RunAgentTask"
	actionPollStep    = "ListAgentRunCurrentStep"
	actionFetchResult = "GetAgentResult"
	actionCancelTask  = "CancelAgentTask"
	actionDetailPod   = "DetailPod"

	apiVersion = "2023-10-30"
)

// Signer authenticates one outbound request. The default signs the canonical
// request line with HMAC-SHA256 over the secret key.
type Signer interface {
	Sign(req *http.Request, body []byte) error
}

type hmacSigner struct {
	accessKey string
	secretKey string
}

func (s hmacSigner) Sign(req *http.Request, body []byte) error {
	date := time.Now().UTC().Format("20060102T150405Z")
	payload := sha256.Sum256(body)
	canonical := fmt.Sprintf("%s\n%s\n%s\n%s", req.Method, req.URL.RequestURI(), date, hex.EncodeToString(payload[:]))
	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(canonical))
	req.Header.Set("X-Date", date)
	req.Header.Set("Authorization", fmt.Sprintf("HMAC-SHA256 AccessKey=%s, Signature=%s", s.accessKey, hex.EncodeToString(mac.Sum(nil))))
	return nil
}

// HTTPConfig configures the remote endpoint and credentials.
type HTTPConfig struct {
	Host      string
	ProductID string
	AccessKey string
	SecretKey string
	// Timeout bounds a single HTTP exchange, not a whole case.
	Timeout time.Duration
	// Signer overrides the default HMAC signer, for tests.
	Signer Signer
}

// HTTPClient implements Client over the remote JSON API.
type HTTPClient struct {
	host      string
	productID string
	signer    Signer
	hc        *http.Client
}

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	signer := cfg.Signer
	if signer == nil {
		signer = hmacSigner{accessKey: cfg.AccessKey, secretKey: cfg.SecretKey}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		host:      cfg.Host,
		productID: cfg.ProductID,
		signer:    signer,
		hc:        &http.Client{Timeout: timeout},
	}
}

// envelope is the common response wrapper. Errors surface either through
// ResponseMetadata.Error or an HTTP-level failure; payload is Result when
// present, otherwise the top-level object itself.
type envelope struct {
	ResponseMetadata struct {
		Error *struct {
			Code    string `json:"Code"`
			Message string `json:"Message"`
		} `json:"Error"`
	} `json:"ResponseMetadata"`
	Result json.RawMessage `json:"Result"`
}

// call performs one signed API action and returns the normalized payload.
func (c *HTTPClient) call(ctx context.Context, action string, body any) (json.RawMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, &RemoteCallError{Action: action, Err: err}
	}
	url := fmt.Sprintf("%s?Action=%s&Version=%s", c.host, action, apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, &RemoteCallError{Action: action, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.signer.Sign(req, raw); err != nil {
		return nil, &RemoteCallError{Action: action, Err: fmt.Errorf("sign request: %w", err)}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &RemoteCallError{Action: action, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteCallError{Action: action, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &RemoteCallError{Action: action, Err: fmt.Errorf("decode response: %w", err)}
	}
	if e := env.ResponseMetadata.Error; e != nil {
		return nil, &RemoteCallError{Action: action, Err: fmt.Errorf("%s: %s", e.Code, e.Message)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteCallError{Action: action, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	if len(env.Result) > 0 && string(env.Result) != "null" {
		return env.Result, nil
	}
	return data, nil
}

// flexInt tolerates both JSON numbers and digit strings for numeric fields.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("flexible int: %w", err)
	}
	*f = flexInt(n)
	return nil
}

func (c *HTTPClient) StartTask(ctx context.Context, in StartTaskInput) (string, error) {
	body := map[string]any{
		"ProductId":      c.productID,
		"PodId":          in.PodID,
		"Prompt":         in.Prompt,
		"Name":           in.RunName,
		"ThreadId":       uuid.NewString(),
		"TimeoutSeconds": int(in.Timeout.Seconds()),
	}
	if in.SystemPrompt != "" {
		body["SystemPrompt"] = in.SystemPrompt
	}
	payload, err := c.call(ctx, actionStartTask, body)
	if err != nil {
		return "", err
	}
	var out struct {
		AgentRunID string `json:"AgentRunId"`
		RunID      string `json:"RunId"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", &RemoteCallError{Action: actionStartTask, Err: fmt.Errorf("decode payload: %w", err)}
	}
	id := out.AgentRunID
	if id == "" {
		id = out.RunID
	}
	if id == "" {
		return "", &RemoteCallError{Action: actionStartTask, Err: fmt.Errorf("response carried no run id")}
	}
	return id, nil
}

func (c *HTTPClient) PollStep(ctx context.Context, runID string) (StepInfo, error) {
	body := map[string]any{
		"ProductId":  c.productID,
		"AgentRunId": runID,
	}
	payload, err := c.call(ctx, actionPollStep, body)
	if err != nil {
		return StepInfo{}, err
	}
	var out struct {
		Status string `json:"Status"`
		Step   *struct {
			Status string `json:"Status"`
		} `json:"Step"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return StepInfo{}, &RemoteCallError{Action: actionPollStep, Err: fmt.Errorf("decode payload: %w", err)}
	}
	status := out.Status
	if status == "" && out.Step != nil {
		status = out.Step.Status
	}
	return StepInfo{
		Signal: SignalFromStep(status, payload),
		Status: status,
		Raw:    payload,
	}, nil
}

func (c *HTTPClient) FetchResult(ctx context.Context, runID string, detailed bool) (AgentResult, error) {
	body := map[string]any{
		"ProductId":  c.productID,
		"AgentRunId": runID,
		"Detailed":   detailed,
	}
	payload, err := c.call(ctx, actionFetchResult, body)
	if err != nil {
		return AgentResult{}, err
	}
	res, err := parseAgentResult(payload)
	if err != nil {
		return AgentResult{}, &RemoteCallError{Action: actionFetchResult, Err: err}
	}
	return res, nil
}

func (c *HTTPClient) CancelTask(ctx context.Context, runID string) (CancelReceipt, error) {
	body := map[string]any{
		"ProductId":  c.productID,
		"AgentRunId": runID,
	}
	payload, err := c.call(ctx, actionCancelTask, body)
	if err != nil {
		return CancelReceipt{}, err
	}
	var out struct {
		Detail  string `json:"Detail"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return CancelReceipt{}, &RemoteCallError{Action: actionCancelTask, Err: fmt.Errorf("decode payload: %w", err)}
	}
	detail := out.Detail
	if detail == "" {
		detail = out.Message
	}
	return CancelReceipt{Accepted: detail != "", Detail: detail}, nil
}

// podDetail is the subset of the pod description used for validation.
type podDetail struct {
	PodID     string `json:"PodId"`
	ProductID string `json:"ProductId"`
	ImageID   string `json:"ImageId"`
}

func (c *HTTPClient) detailPod(ctx context.Context, podID string) (podDetail, error) {
	body := map[string]any{
		"ProductId": c.productID,
		"PodId":     podID,
	}
	payload, err := c.call(ctx, actionDetailPod, body)
	if err != nil {
		return podDetail{}, err
	}
	var out podDetail
	if err := json.Unmarshal(payload, &out); err != nil {
		return podDetail{}, &RemoteCallError{Action: actionDetailPod, Err: fmt.Errorf("decode payload: %w", err)}
	}
	return out, nil
}

var _ Client = (*HTTPClient)(nil)

// outcomeFromWire clamps a wire completion code to the known range.
func outcomeFromWire(n int) model.Outcome {
	if n < int(model.OutcomeNotCompleted) || n > int(model.OutcomeUnknownError) {
		return model.OutcomeUnknownError
	}
	return model.Outcome(n)
}
