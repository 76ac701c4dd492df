package main

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Sticker geometry in printer dots (58mm head, 203dpi).
const (
	stickerWidth   = 384
	stickerQRSize  = 280
	stickerHeader  = 30
	stickerTextGap = 10
	stickerLineGap = 25
	stickerHeight  = stickerHeader + stickerQRSize + stickerTextGap + 2*stickerLineGap + 10

	stickerHeaderText = "MUSIC BUTLER"

	titleMaxRunes    = 30
	subtitleMaxRunes = 35
)

var stickerFontPaths = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
	"/usr/share/fonts/TTF/DejaVuSans-Bold.ttf",
}

var (
	fontOnce sync.Once
	fontData *opentype.Font
)

// stickerFace returns a TrueType face at size points, or the built-in bitmap face
// when no system font is installed.
func stickerFace(size float64) font.Face {
	fontOnce.Do(func() {
		for _, p := range stickerFontPaths {
			b, err := os.ReadFile(p)
			if err != nil {
				continue
			}
			if f, err := opentype.Parse(b); err == nil {
				fontData = f
				return
			}
		}
	})
	if fontData == nil {
		return basicfont.Face7x13
	}
	face, err := opentype.NewFace(fontData, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return basicfont.Face7x13
	}
	return face
}

// truncateLabel shortens s to limit runes, ending in "...", when it is longer.
func truncateLabel(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}

// RenderSticker lays out the header, the QR code for uri and up to two text lines
// on a white 1-bit-ready canvas.
func RenderSticker(uri, title, subtitle string) (*image.Gray, error) {
	q, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	var qr image.Image = q.Image(stickerQRSize)
	if qb := qr.Bounds(); qb.Dx() != stickerQRSize || qb.Dy() != stickerQRSize {
		qr = imaging.Resize(qr, stickerQRSize, stickerQRSize, imaging.NearestNeighbor)
	}

	canvas := imaging.New(stickerWidth, stickerHeight, color.White)
	canvas = imaging.Paste(canvas, qr, image.Pt((stickerWidth-stickerQRSize)/2, stickerHeader))

	drawCentered(canvas, stickerHeaderText, stickerFace(20), stickerHeader-8)

	y := stickerHeader + stickerQRSize + stickerTextGap
	if title != "" {
		drawCentered(canvas, truncateLabel(title, titleMaxRunes), stickerFace(18), y+16)
	}
	if subtitle != "" {
		drawCentered(canvas, truncateLabel(subtitle, subtitleMaxRunes), stickerFace(14), y+stickerLineGap+14)
	}

	gray := image.NewGray(canvas.Bounds())
	draw.Draw(gray, gray.Bounds(), canvas, canvas.Bounds().Min, draw.Src)
	return gray, nil
}

// drawCentered draws s horizontally centred with its baseline at y.
func drawCentered(dst draw.Image, s string, face font.Face, y int) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.Black,
		Face: face,
	}
	w := d.MeasureString(s).Ceil()
	x := (dst.Bounds().Dx() - w) / 2
	if x < 0 {
		x = 0
	}
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}
