package agentapi

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// wireResult is the final-result payload as delivered. Screenshots arrive
// either as an ordered list or as a step-keyed map; Outcome arrives as a
// number or a digit string.
type wireResult struct {
	Outcome      flexInt         `json:"Outcome"`
	Content      string          `json:"Content"`
	StructOutput json.RawMessage `json:"StructOutput"`
	Screenshots  json.RawMessage `json:"Screenshots"`
	RecordingURL string          `json:"RecordingUrl"`

	OriginalDimensions   []int `json:"OriginalDimensions"`
	ScreenshotDimensions []int `json:"ScreenshotDimensions"`

	Usage *struct {
		InputTokens  *flexInt `json:"InputTokens"`
		OutputTokens *flexInt `json:"OutputTokens"`
	} `json:"Usage"`
}

// parseAgentResult normalizes a final-result payload. Optional fields that
// fail to decode are dropped rather than failing the whole result.
func parseAgentResult(payload json.RawMessage) (AgentResult, error) {
	var w wireResult
	if err := json.Unmarshal(payload, &w); err != nil {
		return AgentResult{}, fmt.Errorf("decode result payload: %w", err)
	}

	res := AgentResult{
		Outcome:              outcomeFromWire(int(w.Outcome)),
		Content:              w.Content,
		Screenshots:          parseScreenshots(w.Screenshots),
		OriginalDimensions:   w.OriginalDimensions,
		ScreenshotDimensions: w.ScreenshotDimensions,
		Raw:                  payload,
	}

	if len(w.StructOutput) > 0 && string(w.StructOutput) != "null" {
		var v any
		if err := json.Unmarshal(w.StructOutput, &v); err == nil {
			res.StructOutput = v
		}
	}
	if w.Usage != nil {
		if w.Usage.InputTokens != nil {
			n := int(*w.Usage.InputTokens)
			res.InTokens = &n
		}
		if w.Usage.OutputTokens != nil {
			n := int(*w.Usage.OutputTokens)
			res.OutTokens = &n
		}
	}

	res.VideoURL = normalizeVideoURL(w.RecordingURL, res.Screenshots)
	return res, nil
}

// parseScreenshots accepts either a URL list or a step-keyed map. Map entries
// are ordered by sorted key so repeated fetches yield identical slices.
func parseScreenshots(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var byStep map[string]string
	if err := json.Unmarshal(raw, &byStep); err != nil {
		return nil
	}
	keys := make([]string, 0, len(byStep))
	for k := range byStep {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, byStep[k])
	}
	return out
}

// normalizeVideoURL keeps a usable recording link. Some runs report a
// placeholder instead of an https URL; in that case the first screenshot
// stands in so the record always carries something viewable.
func normalizeVideoURL(url string, screenshots []string) string {
	if strings.HasPrefix(url, "https://") {
		return url
	}
	if len(screenshots) > 0 {
		return screenshots[0]
	}
	return url
}
