package coverage

import "github.com/dj-oyu/pose-coach/internal/pose"

const (
	TooCloseFill = 0.90
	TooFarFill   = 0.45
)

// Advice is the framing-distance advisory for one frame.
type Advice int

const (
	AdviceNone Advice = iota
	AdviceStepBack
	AdviceStepCloser
	AdviceMeasuring
)

var adviceText = map[Advice]string{
	AdviceStepBack:   "카메라에서 한 걸음 뒤로 가세요",
	AdviceStepCloser: "조금 더 가까이 오세요",
	AdviceMeasuring:  "좋아요! 측정 중…",
}

// Text is the user-facing message, empty for AdviceNone.
func (a Advice) Text() string {
	return adviceText[a]
}

func (a Advice) String() string {
	switch a {
	case AdviceStepBack:
		return "step_back"
	case AdviceStepCloser:
		return "step_closer"
	case AdviceMeasuring:
		return "measuring"
	}
	return "none"
}

// Advise compares the head-to-foot span against the image height. Any present
// head and foot landmark counts, regardless of confidence.
func Advise(f *pose.Frame, imageHeight int) Advice {
	if imageHeight <= 0 {
		return AdviceNone
	}
	top, bottom, ok := pose.HeadFootSpan(f, 0)
	if !ok {
		return AdviceNone
	}
	fill := (bottom - top) / float64(imageHeight)
	switch {
	case fill > TooCloseFill:
		return AdviceStepBack
	case fill < TooFarFill:
		return AdviceStepCloser
	}
	return AdviceMeasuring
}
