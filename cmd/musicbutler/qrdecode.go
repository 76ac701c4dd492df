package main

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"sync/atomic"

	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Detection is one decoded QR code and its corner points in frame coordinates.
type Detection struct {
	Text    string
	Polygon []image.Point
}

// Decoder finds a single QR code per frame.
type Decoder struct {
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}

	detections atomic.Uint64
	failures   atomic.Uint64
}

func NewDecoder() *Decoder {
	return &Decoder{
		reader: zxqr.NewQRCodeReader(),
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Decode returns the first code in img. A frame without a readable code
// reports false.
func (d *Decoder) Decode(img image.Image) (Detection, bool) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		d.failures.Add(1)
		return Detection{}, false
	}
	res, err := d.reader.Decode(bmp, d.hints)
	if err != nil {
		if !isNoCode(err) {
			d.failures.Add(1)
		}
		return Detection{}, false
	}

	det := Detection{Text: res.GetText()}
	for _, p := range res.GetResultPoints() {
		det.Polygon = append(det.Polygon, image.Pt(int(p.GetX()), int(p.GetY())))
	}
	d.detections.Add(1)
	detectionsTotal.Inc()
	return det, true
}

// Detections is the number of codes decoded so far.
func (d *Decoder) Detections() uint64 { return d.detections.Load() }

// Failures counts frames the reader rejected for reasons other than "no code".
func (d *Decoder) Failures() uint64 { return d.failures.Load() }

// isNoCode reports whether err just means "nothing decodable in this frame".
func isNoCode(err error) bool {
	var (
		nf gozxing.NotFoundException
		cs gozxing.ChecksumException
		fe gozxing.FormatException
	)
	return errors.As(err, &nf) || errors.As(err, &cs) || errors.As(err, &fe)
}

var (
	colorPlay  = color.RGBA{0, 200, 0, 255}
	colorPrint = color.RGBA{255, 140, 0, 255}
	colorOther = color.RGBA{30, 120, 255, 255}
)

// Annotate outlines det on dst and labels it with what a scan would do.
func Annotate(dst draw.Image, det Detection, mode Mode, debug bool) {
	valid := IsValid(det.Text)

	c := colorOther
	label := "NOT SPOTIFY"
	switch {
	case valid && mode == ModePlay:
		c, label = colorPlay, "PLAY MODE"
	case valid && mode == ModePrint:
		c, label = colorPrint, "PRINT MODE"
	case valid:
		label = "VALID SPOTIFY"
	}
	if debug {
		label = truncateLabel(det.Text, 30)
	}

	pts := det.Polygon
	for i := range pts {
		drawLine(dst, pts[i], pts[(i+1)%len(pts)], c)
	}

	at := image.Pt(10, 20)
	if len(pts) > 0 {
		at = pts[0]
		for _, p := range pts[1:] {
			if p.Y < at.Y {
				at = p
			}
		}
		at.Y -= 6
	}
	drawLabel(dst, label, at, c)
}

func drawLabel(dst draw.Image, s string, at image.Point, c color.Color) {
	if at.Y < 13 {
		at.Y = 13
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(at.X, at.Y),
	}
	d.DrawString(s)
}

// drawLine draws a 2px Bresenham line.
func drawLine(dst draw.Image, a, b image.Point, c color.Color) {
	dx, dy := abs(b.X-a.X), -abs(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy
	x, y := a.X, a.Y
	for {
		dst.Set(x, y, c)
		dst.Set(x+1, y, c)
		dst.Set(x, y+1, c)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
