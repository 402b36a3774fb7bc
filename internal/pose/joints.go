// Package pose defines the canonical body-joint vocabulary, the per-capture
// keypoint Frame, adapters from pose-model vocabularies, and the 2D geometry
// used by the analysis stages.
package pose

import "strings"

// Joint is a canonical body-joint identifier.
type Joint string

const (
	Nose           Joint = "nose"
	LeftEyeInner   Joint = "left_eye_inner"
	LeftEye        Joint = "left_eye"
	LeftEyeOuter   Joint = "left_eye_outer"
	RightEyeInner  Joint = "right_eye_inner"
	RightEye       Joint = "right_eye"
	RightEyeOuter  Joint = "right_eye_outer"
	LeftEar        Joint = "left_ear"
	RightEar       Joint = "right_ear"
	MouthLeft      Joint = "mouth_left"
	MouthRight     Joint = "mouth_right"
	LeftShoulder   Joint = "left_shoulder"
	RightShoulder  Joint = "right_shoulder"
	LeftElbow      Joint = "left_elbow"
	RightElbow     Joint = "right_elbow"
	LeftWrist      Joint = "left_wrist"
	RightWrist     Joint = "right_wrist"
	LeftPinky      Joint = "left_pinky"
	RightPinky     Joint = "right_pinky"
	LeftIndex      Joint = "left_index"
	RightIndex     Joint = "right_index"
	LeftThumb      Joint = "left_thumb"
	RightThumb     Joint = "right_thumb"
	LeftHip        Joint = "left_hip"
	RightHip       Joint = "right_hip"
	LeftKnee       Joint = "left_knee"
	RightKnee      Joint = "right_knee"
	LeftAnkle      Joint = "left_ankle"
	RightAnkle     Joint = "right_ankle"
	LeftHeel       Joint = "left_heel"
	RightHeel      Joint = "right_heel"
	LeftFootIndex  Joint = "left_foot_index"
	RightFootIndex Joint = "right_foot_index"
)

// mediaPipeOrder is the 33-landmark index order of MediaPipe Pose.
var mediaPipeOrder = [...]Joint{
	Nose, LeftEyeInner, LeftEye, LeftEyeOuter, RightEyeInner, RightEye, RightEyeOuter,
	LeftEar, RightEar, MouthLeft, MouthRight,
	LeftShoulder, RightShoulder, LeftElbow, RightElbow, LeftWrist, RightWrist,
	LeftPinky, RightPinky, LeftIndex, RightIndex, LeftThumb, RightThumb,
	LeftHip, RightHip, LeftKnee, RightKnee, LeftAnkle, RightAnkle,
	LeftHeel, RightHeel, LeftFootIndex, RightFootIndex,
}

// coco17Order is the 17-keypoint index order used by COCO-trained models (YOLO pose).
var coco17Order = [...]Joint{
	Nose, LeftEye, RightEye, LeftEar, RightEar,
	LeftShoulder, RightShoulder, LeftElbow, RightElbow, LeftWrist, RightWrist,
	LeftHip, RightHip, LeftKnee, RightKnee, LeftAnkle, RightAnkle,
}

var canonical = func() map[Joint]bool {
	m := make(map[Joint]bool, len(mediaPipeOrder))
	for _, j := range mediaPipeOrder {
		m[j] = true
	}
	return m
}()

// Joints returns every canonical joint in MediaPipe index order.
func Joints() []Joint {
	out := make([]Joint, len(mediaPipeOrder))
	copy(out, mediaPipeOrder[:])
	return out
}

// Valid reports whether j belongs to the canonical set.
func (j Joint) Valid() bool {
	return canonical[j]
}

// Opposite returns the same joint on the other body side. Central joints map to themselves.
func (j Joint) Opposite() Joint {
	s := string(j)
	switch {
	case strings.HasPrefix(s, "left_"):
		return Joint("right_" + s[len("left_"):])
	case strings.HasPrefix(s, "right_"):
		return Joint("left_" + s[len("right_"):])
	case j == MouthLeft:
		return MouthRight
	case j == MouthRight:
		return MouthLeft
	}
	return j
}

// ParseJoint normalizes the spellings seen across pose runtimes
// ("LEFT_WRIST", "left wrist", "left-wrist", "leftWrist") to a canonical Joint.
func ParseJoint(name string) (Joint, bool) {
	s := strings.TrimSpace(name)
	if s == "" {
		return "", false
	}

	var b strings.Builder
	for i, r := range s {
		switch {
		case r == ' ' || r == '-' || r == '.':
			b.WriteByte('_')
		case r >= 'A' && r <= 'Z':
			// camelCase boundary
			if i > 0 && s[i-1] >= 'a' && s[i-1] <= 'z' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
	}

	j := Joint(b.String())
	if !j.Valid() {
		return "", false
	}
	return j, true
}
