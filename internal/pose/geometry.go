package pose

import "math"

// MinCalibrationSpanPx is the smallest head-to-foot pixel span accepted for
// height calibration. Shorter spans come from cropped or distant bodies.
const MinCalibrationSpanPx = 120.0

// CalibrationVisibility is the confidence a landmark needs to anchor calibration.
const CalibrationVisibility = 0.35

var (
	headJoints = []Joint{Nose, LeftEye, RightEye, LeftEar, RightEar}
	footJoints = []Joint{LeftAnkle, RightAnkle, LeftFootIndex, RightFootIndex}
)

// Point is a 2D image position.
type Point struct {
	X, Y float64
}

// Angle returns the interior angle at b formed by rays b→a and b→c, in degrees
// within [0,180]. ok is false when either ray has zero length.
func Angle(a, b, c Point) (float64, bool) {
	v1x, v1y := a.X-b.X, a.Y-b.Y
	v2x, v2y := c.X-b.X, c.Y-b.Y
	n1 := math.Hypot(v1x, v1y)
	n2 := math.Hypot(v2x, v2y)
	if n1 == 0 || n2 == 0 || math.IsNaN(n1) || math.IsNaN(n2) {
		return 0, false
	}
	cos := (v1x*v2x + v1y*v2y) / (n1 * n2)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi, true
}

// SegmentLength returns the Euclidean pixel distance between a and b.
func SegmentLength(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// HeadFootSpan returns the topmost head y and bottommost foot y among visible
// landmarks. ok is false when either group has no visible landmark.
func HeadFootSpan(f *Frame, threshold float64) (top, bottom float64, ok bool) {
	top, okTop := extremeY(f, headJoints, threshold, math.Min)
	bottom, okBottom := extremeY(f, footJoints, threshold, math.Max)
	return top, bottom, okTop && okBottom
}

func extremeY(f *Frame, joints []Joint, threshold float64, pick func(a, b float64) float64) (float64, bool) {
	var (
		v     float64
		found bool
	)
	for _, j := range joints {
		if !f.Visible(j, threshold) {
			continue
		}
		k, _ := f.Get(j)
		if !found {
			v, found = k.Y, true
			continue
		}
		v = pick(v, k.Y)
	}
	return v, found
}

// PixelToCMFactor derives a cm-per-pixel ratio from the user's height and the
// observed head-to-foot span. ok is false when a landmark group is missing, the
// height is not positive, or the span is below MinCalibrationSpanPx.
func PixelToCMFactor(f *Frame, heightCM float64) (float64, bool) {
	if heightCM <= 0 || math.IsNaN(heightCM) || math.IsInf(heightCM, 0) {
		return 0, false
	}
	top, bottom, ok := HeadFootSpan(f, CalibrationVisibility)
	if !ok {
		return 0, false
	}
	span := bottom - top
	if span < MinCalibrationSpanPx {
		return 0, false
	}
	return heightCM / span, true
}

// Rect is an integer pixel box [X1,X2) x [Y1,Y2). It marshals as [x1,y1,x2,y2].
type Rect [4]int

// BoundingBox returns the region around all keypoints expanded by margin and
// clamped to the image. An empty frame yields the full image.
func BoundingBox(f *Frame, margin int) Rect {
	full := Rect{0, 0, f.Width, f.Height}
	if f.Empty() {
		return full
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, k := range f.Keypoints() {
		minX, maxX = math.Min(minX, k.X), math.Max(maxX, k.X)
		minY, maxY = math.Min(minY, k.Y), math.Max(maxY, k.Y)
	}
	x1 := max(0, int(minX)-margin)
	y1 := max(0, int(minY)-margin)
	x2 := min(f.Width, int(maxX)+margin)
	y2 := min(f.Height, int(maxY)+margin)
	if x2 <= x1 || y2 <= y1 {
		return full
	}
	return Rect{x1, y1, x2, y2}
}
