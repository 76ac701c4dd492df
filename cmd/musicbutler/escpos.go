package main

import (
	"bytes"
	"image"
)

// ESC/POS byte sequences used by the sticker job.
var (
	escInit    = []byte{0x1b, 0x40}       // ESC @
	gsRaster   = []byte{0x1d, 0x76, 0x30} // GS v 0
	gsCut      = []byte{0x1d, 0x56, 0x01} // GS V 1 (partial)
	feedBefore = []byte("\n\n")
)

// rasterThreshold is the luma below which a pixel prints black.
const rasterThreshold = 128

func escposInit() []byte {
	return append([]byte(nil), escInit...)
}

// EncodeRaster builds a complete print job for img: reset, one GS v 0 raster block,
// two line feeds and a partial cut. Rows are padded to whole bytes, MSB first.
func EncodeRaster(img *image.Gray) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	rowBytes := (w + 7) / 8

	var buf bytes.Buffer
	buf.Grow(len(escInit) + 8 + rowBytes*h + len(feedBefore) + len(gsCut))

	buf.Write(escInit)
	buf.Write(gsRaster)
	buf.WriteByte(0) // normal density
	buf.WriteByte(byte(rowBytes))
	buf.WriteByte(byte(rowBytes >> 8))
	buf.WriteByte(byte(h))
	buf.WriteByte(byte(h >> 8))

	row := make([]byte, rowBytes)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		clear(row)
		for x := 0; x < w; x++ {
			if img.GrayAt(b.Min.X+x, y).Y < rasterThreshold {
				row[x/8] |= 0x80 >> (x % 8)
			}
		}
		buf.Write(row)
	}

	buf.Write(feedBefore)
	buf.Write(gsCut)
	return buf.Bytes()
}
