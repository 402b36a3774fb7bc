package feedback

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultFeedback is shown when the generator produced nothing usable.
const DefaultFeedback = "AI 피드백 생성 실패"

// RiskLevel grades how risky the observed form is.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMid     RiskLevel = "mid"
	RiskHigh    RiskLevel = "high"
	RiskUnknown RiskLevel = "unknown"
)

// Response is the fixed schema every generator answer is normalized into.
type Response struct {
	Feedback  string    `json:"feedback"`
	Accuracy  int       `json:"accuracy"`
	Tips      []string  `json:"tips"`
	RiskLevel RiskLevel `json:"risk_level"`
}

// Default is the fully defaulted response.
func Default() Response {
	return Response{Feedback: DefaultFeedback, Tips: []string{}, RiskLevel: RiskUnknown}
}

// maxDepth bounds string-inside-JSON recursion.
const maxDepth = 4

// Normalize maps any decoded JSON value onto Response. It never panics.
//
//   - object: fields are read and defaulted individually
//   - array: the first object element wins; with no object the array becomes tips
//   - string: parsed as JSON and normalized again, otherwise used as feedback text
//   - anything else: defaults
func Normalize(raw any) Response {
	r, _ := normalize(raw, 0)
	return r
}

// NormalizeText normalizes a raw generator reply. Markdown code fences are removed first.
func NormalizeText(s string) Response {
	r, _ := normalizeText(s, 0)
	return r
}

// normalize reports whether an accuracy value was actually present.
func normalize(raw any, depth int) (Response, bool) {
	if depth > maxDepth {
		return Default(), false
	}
	switch v := raw.(type) {
	case nil:
		return Default(), false
	case map[string]any:
		return fromObject(v)
	case []any:
		for _, el := range v {
			if obj, ok := el.(map[string]any); ok {
				return fromObject(obj)
			}
		}
		r := Default()
		r.Tips = tips(v)
		return r, false
	case string:
		return normalizeText(v, depth+1)
	case []byte:
		return normalizeText(string(v), depth+1)
	case json.RawMessage:
		return normalizeText(string(v), depth+1)
	case bool, float64, float32, int, int64, json.Number:
		return Default(), false
	}
	// Go values that were never JSON, e.g. map[string]string: round-trip them.
	b, err := json.Marshal(raw)
	if err != nil {
		return Default(), false
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return Default(), false
	}
	switch decoded.(type) {
	case map[string]any, []any:
		return normalize(decoded, depth+1)
	}
	return Default(), false
}

func normalizeText(s string, depth int) (Response, bool) {
	text := stripCodeFences(strings.TrimSpace(s))
	if text == "" {
		return Default(), false
	}
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil {
		return normalize(decoded, depth)
	}
	r := Default()
	r.Feedback = text
	return r, false
}

func fromObject(m map[string]any) (Response, bool) {
	r := Default()
	if fb := scalarText(m["feedback"]); fb != "" {
		r.Feedback = fb
	}
	acc, hasAcc := accuracy(m["accuracy"])
	r.Accuracy = acc
	r.Tips = tips(m["tips"])
	r.RiskLevel = riskLevel(m["risk_level"])
	return r, hasAcc
}

func scalarText(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	}
	return ""
}

func accuracy(v any) (int, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = p
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(x), "%")), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Round(math.Max(0, math.Min(100, f)))), true
}

// tips accepts a list or a single scalar. Blank and non-scalar entries are dropped.
func tips(v any) []string {
	out := []string{}
	switch x := v.(type) {
	case nil:
	case []any:
		for _, el := range x {
			if s := scalarText(el); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range x {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	default:
		if s := scalarText(x); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func riskLevel(v any) RiskLevel {
	s, _ := v.(string)
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow
	case "mid", "medium", "moderate":
		return RiskMid
	case "high":
		return RiskHigh
	}
	return RiskUnknown
}

// stripCodeFences removes a surrounding ``` or ```json fence.
func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimLeft(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func (r Response) String() string {
	return fmt.Sprintf("%s (accuracy=%d risk=%s tips=%d)", r.Feedback, r.Accuracy, r.RiskLevel, len(r.Tips))
}
