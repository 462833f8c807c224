package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

var (
	colorConnected    = color.RGBA{R: 0x2e, G: 0xa0, B: 0x43, A: 0xff}
	colorDisconnected = color.RGBA{R: 0x8b, G: 0x8b, B: 0x8b, A: 0xff}
	colorBusy         = color.RGBA{R: 0xe0, G: 0x8a, B: 0x1e, A: 0xff}

	iconColors = map[string]color.RGBA{
		"connected":    colorConnected,
		"disconnected": colorDisconnected,
		"busy":         colorBusy,
	}
)

// dotIcon renders a filled circle of c as a 22x22 PNG.
func dotIcon(c color.Color) []byte {
	const size = 22
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	center, r := float64(size-1)/2, float64(size)/2-2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			if dx*dx+dy*dy <= r*r {
				img.Set(x, y, c)
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
