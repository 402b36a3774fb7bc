// Package overlay draws pose skeletons and a stats line onto camera frames.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/dj-oyu/pose-coach/internal/pose"
)

const (
	DefaultWidth    = 640
	DefaultHeight   = 480
	DefaultQuality  = 75
	DefaultMinScore = 0.35
)

// Limbs are the skeleton segments drawn between joints.
var Limbs = [][2]pose.Joint{
	{pose.LeftShoulder, pose.RightShoulder},
	{pose.LeftShoulder, pose.LeftElbow},
	{pose.LeftElbow, pose.LeftWrist},
	{pose.RightShoulder, pose.RightElbow},
	{pose.RightElbow, pose.RightWrist},
	{pose.LeftShoulder, pose.LeftHip},
	{pose.RightShoulder, pose.RightHip},
	{pose.LeftHip, pose.RightHip},
	{pose.LeftHip, pose.LeftKnee},
	{pose.LeftKnee, pose.LeftAnkle},
	{pose.RightHip, pose.RightKnee},
	{pose.RightKnee, pose.RightAnkle},
	{pose.LeftAnkle, pose.LeftHeel},
	{pose.LeftHeel, pose.LeftFootIndex},
	{pose.RightAnkle, pose.RightHeel},
	{pose.RightHeel, pose.RightFootIndex},
	{pose.Nose, pose.LeftEye},
	{pose.Nose, pose.RightEye},
	{pose.LeftEye, pose.LeftEar},
	{pose.RightEye, pose.RightEar},
}

var (
	limbColor  = color.RGBA{R: 0, G: 230, B: 118, A: 255}
	leftColor  = color.RGBA{R: 66, G: 165, B: 245, A: 255}
	rightColor = color.RGBA{R: 255, G: 167, B: 38, A: 255}
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	textBG     = color.RGBA{R: 0, G: 0, B: 0, A: 180}
)

// Renderer draws overlays. The zero value uses the defaults.
type Renderer struct {
	Width    int // canvas size when there is no camera image
	Height   int
	Quality  int
	MinScore float64 // joints at or below this score are not drawn
	LineW    float32
}

// Frame is what one overlay shows.
type Frame struct {
	Image     []byte // camera JPEG; nil draws on a blank canvas
	Mirror    bool   // flip Image horizontally to match mirrored keypoints
	Keypoints []pose.Keypoint
	Lines     []string // stats text, top-left
}

// Render returns the overlaid frame as JPEG.
func (r Renderer) Render(f Frame) ([]byte, error) {
	img, err := r.canvas(f.Image)
	if err != nil {
		return nil, err
	}
	if f.Mirror && f.Image != nil {
		flipHorizontal(img)
	}
	r.drawSkeleton(img, f.Keypoints)
	y := 10
	for _, line := range f.Lines {
		drawTextWithBackground(img, 10, y, line)
		y += basicfont.Face7x13.Height + 6
	}
	return encode(img, r.quality())
}

func (r Renderer) canvas(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		w, h := r.Width, r.Height
		if w <= 0 || h <= 0 {
			w, h = DefaultWidth, DefaultHeight
		}
		return colorBars(w, h), nil
	}
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode camera frame: %w", err)
	}
	b := src.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), src, b.Min, draw.Src)
	return img, nil
}

func flipHorizontal(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Min.X, y)+b.Dx()*4]
		for i, j := 0, len(row)-4; i < j; i, j = i+4, j-4 {
			for k := 0; k < 4; k++ {
				row[i+k], row[j+k] = row[j+k], row[i+k]
			}
		}
	}
}

func (r Renderer) drawSkeleton(img *image.RGBA, kps []pose.Keypoint) {
	if len(kps) == 0 {
		return
	}
	minScore := r.MinScore
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	width := r.LineW
	if width <= 0 {
		width = 3
	}

	byJoint := make(map[pose.Joint]pose.Keypoint, len(kps))
	for _, k := range kps {
		if k.Score > minScore {
			byJoint[k.Joint] = k
		}
	}

	b := img.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = draw.Over
	for _, l := range Limbs {
		a, okA := byJoint[l[0]]
		c, okC := byJoint[l[1]]
		if !okA || !okC {
			continue
		}
		line(z, float32(a.X), float32(a.Y), float32(c.X), float32(c.Y), width)
	}
	z.Draw(img, b, image.NewUniform(limbColor), image.Point{})

	for _, side := range []struct {
		c    color.Color
		left bool
	}{{leftColor, true}, {rightColor, false}} {
		z.Reset(b.Dx(), b.Dy())
		z.DrawOp = draw.Over
		for _, k := range byJoint {
			if isLeft(k.Joint) == side.left {
				dot(z, float32(k.X), float32(k.Y), width+1.5)
			}
		}
		z.Draw(img, b, image.NewUniform(side.c), image.Point{})
	}
}

func isLeft(j pose.Joint) bool {
	return len(j) > 5 && j[:5] == "left_"
}

// line adds a w-wide quad from (x0,y0) to (x1,y1).
func line(z *vector.Rasterizer, x0, y0, x1, y1, w float32) {
	dx, dy := x1-x0, y1-y0
	n := float32(math.Hypot(float64(dx), float64(dy)))
	if n == 0 {
		return
	}
	px, py := -dy/n*w/2, dx/n*w/2
	z.MoveTo(x0+px, y0+py)
	z.LineTo(x1+px, y1+py)
	z.LineTo(x1-px, y1-py)
	z.LineTo(x0-px, y0-py)
	z.ClosePath()
}

// dot adds a filled circle approximated by a 16-gon.
func dot(z *vector.Rasterizer, cx, cy, r float32) {
	const n = 16
	for i := 0; i <= n; i++ {
		a := 2 * math.Pi * float64(i) / n
		x := cx + r*float32(math.Cos(a))
		y := cy + r*float32(math.Sin(a))
		if i == 0 {
			z.MoveTo(x, y)
		} else {
			z.LineTo(x, y)
		}
	}
	z.ClosePath()
}

// drawTextWithBackground draws ASCII text at (x, y) on a translucent box.
func drawTextWithBackground(img *image.RGBA, x, y int, s string) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, s).Ceil()
	const pad = 3
	box := image.Rect(x-pad, y-pad, x+w+pad, y+face.Height+pad).Intersect(img.Bounds())
	draw.Draw(img, box, image.NewUniform(textBG), image.Point{}, draw.Over)

	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.P(x, y+face.Ascent),
	}
	d.DrawString(s)
}

// colorBars is the test pattern shown when no camera frame is available.
func colorBars(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	// White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}
	barWidth := max(w/len(colors), 1)
	for i, c := range colors {
		bar := image.Rect(i*barWidth, 0, (i+1)*barWidth, h)
		if i == len(colors)-1 {
			bar.Max.X = w
		}
		draw.Draw(img, bar, image.NewUniform(c), image.Point{}, draw.Src)
	}
	return img
}

// Blank returns the color-bar pattern as JPEG.
func Blank(w, h int) ([]byte, error) {
	if w <= 0 || h <= 0 {
		w, h = DefaultWidth, DefaultHeight
	}
	return encode(colorBars(w, h), DefaultQuality)
}

func (r Renderer) quality() int {
	if r.Quality <= 0 || r.Quality > 100 {
		return DefaultQuality
	}
	return r.Quality
}

func encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
