package pose

// Keypoint is one named landmark of a frame. X and Y are image pixels, Z is the
// model's relative depth (approximate, may be zero), Score is confidence in [0,1].
type Keypoint struct {
	Joint Joint   `json:"name"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Score float64 `json:"score"`
}

// Point returns the keypoint's 2D position.
func (k Keypoint) Point() Point {
	return Point{X: k.X, Y: k.Y}
}

// Frame is the set of keypoints detected in one captured image. Joint names are
// unique within a frame; insertion order is kept for serialization.
type Frame struct {
	Width  int
	Height int

	points map[Joint]Keypoint
	order  []Joint
}

// NewFrame returns an empty frame for an image of the given size.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		points: make(map[Joint]Keypoint),
	}
}

// Set stores a keypoint, replacing an earlier one with the same joint.
func (f *Frame) Set(k Keypoint) {
	if _, exists := f.points[k.Joint]; !exists {
		f.order = append(f.order, k.Joint)
	}
	f.points[k.Joint] = k
}

// Get looks up a joint.
func (f *Frame) Get(j Joint) (Keypoint, bool) {
	if f == nil {
		return Keypoint{}, false
	}
	k, ok := f.points[j]
	return k, ok
}

// Visible reports whether j is present with score at or above threshold.
func (f *Frame) Visible(j Joint, threshold float64) bool {
	k, ok := f.Get(j)
	return ok && k.Score >= threshold
}

// Len returns the number of keypoints.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.order)
}

// Empty reports whether no person was detected.
func (f *Frame) Empty() bool {
	return f.Len() == 0
}

// Keypoints returns the keypoints in insertion order.
func (f *Frame) Keypoints() []Keypoint {
	if f == nil {
		return nil
	}
	out := make([]Keypoint, 0, len(f.order))
	for _, j := range f.order {
		out = append(out, f.points[j])
	}
	return out
}

// Mirror returns the frame as it would have been detected on a horizontally
// flipped image: x is reflected and left/right joints swap names.
func (f *Frame) Mirror() *Frame {
	out := NewFrame(f.Width, f.Height)
	for _, k := range f.Keypoints() {
		if f.Width > 0 {
			k.X = float64(f.Width-1) - k.X
		}
		k.Joint = k.Joint.Opposite()
		out.Set(k)
	}
	return out
}

// Angle is the interior angle at jb between jb→ja and jb→jc.
// ok is false when a joint is missing or a ray has zero length.
func (f *Frame) Angle(ja, jb, jc Joint) (float64, bool) {
	a, okA := f.Get(ja)
	b, okB := f.Get(jb)
	c, okC := f.Get(jc)
	if !okA || !okB || !okC {
		return 0, false
	}
	return Angle(a.Point(), b.Point(), c.Point())
}

// SegmentLength is the pixel distance between two joints.
func (f *Frame) SegmentLength(ja, jb Joint) (float64, bool) {
	a, okA := f.Get(ja)
	b, okB := f.Get(jb)
	if !okA || !okB {
		return 0, false
	}
	return SegmentLength(a.Point(), b.Point()), true
}
