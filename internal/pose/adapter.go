package pose

import (
	"fmt"
	"math"
	"strings"
)

// RawKeypoint is a keypoint as produced by a pose model before normalization.
// Either Name or Index identifies the landmark; when both are absent the
// keypoint's position in the slice is used as its index.
type RawKeypoint struct {
	Name       string   `json:"name,omitempty" msgpack:"name,omitempty"`
	Index      *int     `json:"index,omitempty" msgpack:"index,omitempty"`
	X          float64  `json:"x" msgpack:"x"`
	Y          float64  `json:"y" msgpack:"y"`
	Z          float64  `json:"z,omitempty" msgpack:"z,omitempty"`
	Score      *float64 `json:"score,omitempty" msgpack:"score,omitempty"`
	Visibility *float64 `json:"visibility,omitempty" msgpack:"visibility,omitempty"`
	Presence   *float64 `json:"presence,omitempty" msgpack:"presence,omitempty"`
}

// Vocabulary selects a pose model family's keypoint naming scheme.
type Vocabulary int

const (
	MediaPipe Vocabulary = iota // 33 landmarks
	COCO17                      // 17 keypoints (YOLO pose, MoveNet)
)

func (v Vocabulary) String() string {
	switch v {
	case COCO17:
		return "coco17"
	default:
		return "mediapipe"
	}
}

// ParseVocabulary accepts "mediapipe" / "blazepose" and "coco17" / "coco" / "yolo".
func ParseVocabulary(s string) (Vocabulary, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mediapipe", "blazepose", "mp":
		return MediaPipe, nil
	case "coco17", "coco", "yolo", "yolo-pose", "movenet":
		return COCO17, nil
	}
	return MediaPipe, fmt.Errorf("unknown pose vocabulary: %q", s)
}

func (v Vocabulary) order() []Joint {
	if v == COCO17 {
		return coco17Order[:]
	}
	return mediaPipeOrder[:]
}

// Adapter converts one model family's raw output into a canonical Frame.
type Adapter struct {
	Vocabulary Vocabulary
	// Normalized means x,y (and z) are fractions of the image size.
	Normalized bool
}

// Frame builds a Frame for an image of width x height. Unknown names,
// out-of-range indexes and non-finite coordinates are dropped.
func (a Adapter) Frame(raw []RawKeypoint, width, height int) *Frame {
	f := NewFrame(width, height)
	order := a.Vocabulary.order()

	for i, r := range raw {
		j, ok := a.resolve(r, i, order)
		if !ok {
			continue
		}
		x, y, z := r.X, r.Y, r.Z
		if a.Normalized {
			x *= float64(width)
			y *= float64(height)
			z *= float64(width)
		}
		if !finite(x) || !finite(y) {
			continue
		}
		if !finite(z) {
			z = 0
		}
		f.Set(Keypoint{Joint: j, X: x, Y: y, Z: z, Score: score(r)})
	}
	return f
}

func (a Adapter) resolve(r RawKeypoint, pos int, order []Joint) (Joint, bool) {
	if r.Name != "" {
		return ParseJoint(r.Name)
	}
	idx := pos
	if r.Index != nil {
		idx = *r.Index
	}
	if idx < 0 || idx >= len(order) {
		return "", false
	}
	return order[idx], true
}

// score prefers an explicit score, then visibility, then presence.
// A keypoint that carries no confidence at all scores 0.
func score(r RawKeypoint) float64 {
	var s float64
	switch {
	case r.Score != nil:
		s = *r.Score
	case r.Visibility != nil:
		s = *r.Visibility
	case r.Presence != nil:
		s = *r.Presence
	}
	if !finite(s) {
		return 0
	}
	return math.Max(0, math.Min(1, s))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
