package feedback

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/dj-oyu/pose-coach/internal/analysis"
)

const (
	// MaxHistory is the number of trailing conversation lines sent with a request.
	MaxHistory = 10
	// MaxTextRunes truncates free text in compacted payloads.
	MaxTextRunes = 200
	// MaxSets caps the sets considered by an overall summary.
	MaxSets = 10
)

// Request is everything the generator sees for one piece of advice.
// Analysis must already be aggregated; raw landmarks never travel here.
type Request struct {
	Exercise    string            `json:"exercise"`
	DisplayName string            `json:"display_name,omitempty"`
	RepCount    int               `json:"rep_count"`
	Stage       string            `json:"stage"`
	Angle       *float64          `json:"angle,omitempty"`
	TargetReps  int               `json:"target_reps,omitempty"`
	SetIndex    int               `json:"set_index,omitempty"`
	SetTotal    int               `json:"set_total,omitempty"`
	Profile     map[string]any    `json:"body_profile,omitempty"`
	Analysis    *analysis.Summary `json:"analysis_data,omitempty"`
	History     []string          `json:"history,omitempty"`
}

// bounded returns a copy whose history and profile obey the size limits.
func (r Request) bounded() Request {
	if len(r.History) > MaxHistory {
		r.History = r.History[len(r.History)-MaxHistory:]
	}
	if r.Profile != nil {
		if m, ok := compact(r.Profile).(map[string]any); ok {
			r.Profile = m
		}
	}
	return r
}

const systemPrompt = `당신은 사용자의 자세를 교정해주는 최고의 AI 퍼스널 트레이너입니다.
반드시 아래 JSON 스키마 하나만 출력하세요. 다른 설명이나 코드 블록은 출력하지 마세요.
{"feedback": string (한두 문장의 자연스러운 한국어 대화체), "accuracy": integer 0-100, "tips": [string], "risk_level": "low" | "mid" | "high"}`

// BuildPrompt renders the per-set feedback prompt.
func BuildPrompt(req Request) Prompt {
	req = req.bounded()

	var sb strings.Builder
	name := req.DisplayName
	if name == "" {
		name = req.Exercise
	}
	fmt.Fprintf(&sb, "사용자는 %s 운동 중이며, 현재 %d개를 완료했습니다. 현재 자세 단계는 '%s'(up/down)",
		name, req.RepCount, req.Stage)
	if req.Angle != nil {
		fmt.Fprintf(&sb, "이며, 주요 관절 각도는 %d도", int(*req.Angle))
	}
	sb.WriteString("입니다.\n")
	if req.SetTotal > 0 {
		fmt.Fprintf(&sb, "세트: %d/%d", req.SetIndex, req.SetTotal)
		if req.TargetReps > 0 {
			fmt.Fprintf(&sb, ", 목표 반복 수: %d", req.TargetReps)
		}
		sb.WriteString("\n")
	}
	if len(req.History) > 0 {
		sb.WriteString("\n<대화 히스토리>\n")
		for _, h := range req.History {
			sb.WriteString(h)
			sb.WriteString("\n")
		}
	}
	if req.Profile != nil {
		sb.WriteString("\n<체형 프로필>\n")
		writeJSON(&sb, req.Profile)
	}
	if req.Analysis != nil {
		sb.WriteString("\n<실시간 분석 요약>\n")
		writeJSON(&sb, req.Analysis)
	}
	sb.WriteString("\n이전보다 자세가 좋아졌다면 칭찬하고, 위험한 자세라면 risk_level을 높게 평가하세요.\n")

	return Prompt{System: systemPrompt, Text: sb.String(), JSON: true}
}

// SetResult is one completed set as reported by a client. Its shape is free-form.
type SetResult map[string]any

const overallSystemPrompt = `당신은 운동 세션 전체를 평가하는 AI 퍼스널 트레이너입니다.
반드시 아래 JSON 스키마 하나만 출력하세요.
{"feedback": string (세션 전체 총평), "accuracy": integer 0-100 (평균 정확도), "tips": [string] (다음 세션 개선점), "risk_level": "low" | "mid" | "high"}`

// BuildOverallPrompt renders the session summary prompt from compacted sets.
func BuildOverallPrompt(sets []any, avgAccuracy *float64) Prompt {
	var sb strings.Builder
	fmt.Fprintf(&sb, "완료된 세트 %d개의 결과입니다.\n", len(sets))
	writeJSON(&sb, sets)
	if avgAccuracy != nil {
		fmt.Fprintf(&sb, "\n세트 평균 정확도 참고값: %.1f\n", *avgAccuracy)
	}
	return Prompt{System: overallSystemPrompt, Text: sb.String(), JSON: true}
}

func writeJSON(sb *strings.Builder, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		sb.WriteString("null\n")
		return
	}
	sb.Write(b)
	sb.WriteString("\n")
}

// bulkyKeys are per-frame payloads dropped before anything is sent upstream.
var bulkyKeys = map[string]bool{
	"landmarks":        true,
	"landmark_history": true,
	"landmarkHistory":  true,
	"keypoints":        true,
	"frames":           true,
	"images":           true,
	"image":            true,
	"raw":              true,
}

// compact drops bulky keys, rounds floats to 3 decimals and truncates strings.
func compact(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			if bulkyKeys[k] {
				continue
			}
			out[k] = compact(val)
		}
		return out
	case SetResult:
		return compact(map[string]any(x))
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = compact(val)
		}
		return out
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return math.Round(x*1000) / 1000
	case string:
		return truncate(x, MaxTextRunes)
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
