package types

import "time"

// CaptureFrame represents one camera image with metadata
type CaptureFrame struct {
	Data      []byte    // JPEG-encoded image
	Timestamp time.Time // Frame capture timestamp
	FrameNum  uint64    // Sequential frame number
	Width     int       // Frame width
	Height    int       // Frame height
	Mirrored  bool      // True if pose keypoints must be mirrored after estimation
}

// Size is an image size as sent to clients
type Size struct {
	W int `json:"w"`
	H int `json:"h"`
}
