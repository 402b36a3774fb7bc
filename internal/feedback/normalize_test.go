package feedback

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("bad fixture %q: %v", s, err)
	}
	return v
}

func TestNormalizeShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want Response
	}{
		{
			name: "object",
			raw:  decode(t, `{"accuracy":80,"feedback":"x"}`),
			want: Response{Feedback: "x", Accuracy: 80, Tips: []string{}, RiskLevel: RiskUnknown},
		},
		{
			name: "array with object",
			raw:  decode(t, `["not a dict", {"feedback":"y"}]`),
			want: Response{Feedback: "y", Accuracy: 0, Tips: []string{}, RiskLevel: RiskUnknown},
		},
		{
			name: "plain string",
			raw:  "not json",
			want: Response{Feedback: "not json", Tips: []string{}, RiskLevel: RiskUnknown},
		},
		{
			name: "null",
			raw:  nil,
			want: Default(),
		},
		{
			name: "array without object becomes tips",
			raw:  decode(t, `["bend knees", "", 3]`),
			want: Response{Feedback: DefaultFeedback, Tips: []string{"bend knees", "3"}, RiskLevel: RiskUnknown},
		},
		{
			name: "string holding json",
			raw:  `{"feedback":"z","risk_level":"HIGH","tips":"keep back straight"}`,
			want: Response{Feedback: "z", Tips: []string{"keep back straight"}, RiskLevel: RiskHigh},
		},
		{
			name: "double encoded",
			raw:  `"{\"feedback\":\"w\",\"accuracy\":\"77%\"}"`,
			want: Response{Feedback: "w", Accuracy: 77, Tips: []string{}, RiskLevel: RiskUnknown},
		},
		{
			name: "number",
			raw:  42.0,
			want: Default(),
		},
		{
			name: "go map",
			raw:  map[string]string{"feedback": "m", "risk_level": "medium"},
			want: Response{Feedback: "m", Tips: []string{}, RiskLevel: RiskMid},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.raw)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalize mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeFieldCoercion(t *testing.T) {
	r := Normalize(decode(t, `{"feedback": 12, "accuracy": 250.4, "tips": [{"a":1}, "ok", null], "risk_level": 3}`))
	assert.Equal(t, "12", r.Feedback)
	assert.Equal(t, 100, r.Accuracy)
	assert.Equal(t, []string{"ok"}, r.Tips)
	assert.Equal(t, RiskUnknown, r.RiskLevel)

	r = Normalize(decode(t, `{"accuracy": -5, "feedback": "  "}`))
	assert.Equal(t, 0, r.Accuracy)
	assert.Equal(t, DefaultFeedback, r.Feedback)

	r = Normalize(decode(t, `{"accuracy": 66.6}`))
	assert.Equal(t, 67, r.Accuracy)
}

func TestNormalizeTextStripsFences(t *testing.T) {
	for _, in := range []string{
		"```json\n{\"feedback\":\"f\",\"accuracy\":90}\n```",
		"```\n{\"feedback\":\"f\",\"accuracy\":90}\n```",
		"  {\"feedback\":\"f\",\"accuracy\":90}  ",
	} {
		r := NormalizeText(in)
		assert.Equal(t, "f", r.Feedback, in)
		assert.Equal(t, 90, r.Accuracy, in)
	}
	assert.Equal(t, Default(), NormalizeText("   "))
}

func TestNormalizeTipsNeverNil(t *testing.T) {
	for _, raw := range []any{nil, "x", decode(t, `{}`), decode(t, `[]`), true} {
		r := Normalize(raw)
		assert.NotNil(t, r.Tips)
		b, err := json.Marshal(r)
		assert.NoError(t, err)
		assert.Contains(t, string(b), `"tips":[]`)
	}
}

func TestNormalizeDeepNestingTerminates(t *testing.T) {
	s := `"x"`
	for range 10 {
		b, _ := json.Marshal(s)
		s = string(b)
	}
	r := NormalizeText(s)
	assert.NotNil(t, r.Tips)
}
