package agentapi

import (
	"encoding/json"
	"strings"

	"github.com/takumin/cloudcase/internal/model"
)

// InferAssessment extracts the self-reported verdict a case emitted, if any.
// The structured output channel wins; failing that, the textual content is
// scanned for a trailing JSON object carrying a "status" field. Returns false
// when no parseable verdict is present.
func InferAssessment(res AgentResult) (model.Assessment, bool) {
	if a, ok := assessFromStructOutput(res.StructOutput); ok {
		return a, true
	}
	return assessFromContent(res.Content)
}

func assessFromStructOutput(v any) (model.Assessment, bool) {
	switch out := v.(type) {
	case map[string]any:
		return assessFromMap(out)
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(out), &m); err != nil {
			return model.Assessment{}, false
		}
		return assessFromMap(m)
	}
	return model.Assessment{}, false
}

func assessFromMap(m map[string]any) (model.Assessment, bool) {
	raw, _ := m["status"].(string)
	status, ok := model.ParseStatus(raw)
	if !ok {
		return model.Assessment{}, false
	}
	reason, _ := m["reason"].(string)
	return model.Assessment{Status: status, Reason: reason}, true
}

const verdictMarker = `{"status"`

// assessFromContent finds the last status-bearing JSON object in free text.
// Agents often wrap their verdict in prose or embed it inside an outer JSON
// string with escaped quotes; the escaped form is unescaped and rescanned.
func assessFromContent(content string) (model.Assessment, bool) {
	if a, ok := scanForVerdict(content); ok {
		return a, true
	}
	unescaped := strings.ReplaceAll(content, `\"`, `"`)
	if unescaped != content {
		return scanForVerdict(unescaped)
	}
	return model.Assessment{}, false
}

func scanForVerdict(content string) (model.Assessment, bool) {
	pos := strings.LastIndex(content, verdictMarker)
	for pos >= 0 {
		if obj, ok := extractJSONObject(content[pos:]); ok {
			if a, ok := parseAssessmentObject(obj); ok {
				return a, true
			}
		}
		pos = strings.LastIndex(content[:pos], verdictMarker)
	}
	return model.Assessment{}, false
}

// extractJSONObject returns the balanced-brace prefix of s, skipping braces
// inside string literals.
func extractJSONObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

func parseAssessmentObject(obj string) (model.Assessment, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(obj), &m); err != nil {
		return model.Assessment{}, false
	}
	return assessFromMap(m)
}
