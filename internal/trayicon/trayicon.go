// Package trayicon renders the notification area icon: a green square with
// a white "W", a red badge with the pending update count, and a grey variant
// while the daemon is unreachable.
package trayicon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Size is the edge length of the rendered icon in pixels.
const Size = 64

var (
	Green = color.RGBA{R: 0x2e, G: 0x7d, B: 0x32, A: 0xff}
	Grey  = color.RGBA{R: 0x75, G: 0x75, B: 0x75, A: 0xff}
	Red   = color.RGBA{R: 0xd3, G: 0x2f, B: 0x2f, A: 0xff}
	White = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

const (
	margin      = 2
	badgeRadius = 15
)

// BadgeText returns the badge label for count, or "" when no badge is shown.
func BadgeText(count int) string {
	switch {
	case count <= 0:
		return ""
	case count > 9:
		return "9+"
	default:
		return strconv.Itoa(count)
	}
}

// Tooltip returns the tray tooltip for the given state.
func Tooltip(count int, connected bool) string {
	switch {
	case !connected:
		return "Winget Updater - Service disconnected"
	case count <= 0:
		return "Winget Updater - No updates available"
	case count == 1:
		return "Winget Updater - 1 update available"
	default:
		return fmt.Sprintf("Winget Updater - %d updates available", count)
	}
}

// Render draws the icon.
func Render(count int, connected bool) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, Size, Size))

	bg := Green
	if !connected {
		bg = Grey
	}
	draw.Draw(img, image.Rect(margin, margin, Size-margin, Size-margin), image.NewUniform(bg), image.Point{}, draw.Src)

	// The letter fills the lower left so the badge does not cover it.
	drawText(img, "W", image.Rect(8, 14, 8+28, 14+44))

	if !connected {
		return img
	}
	if label := BadgeText(count); label != "" {
		cx, cy := Size-badgeRadius-1, badgeRadius+1
		fillCircle(img, cx, cy, badgeRadius, Red)
		w := 7 * len(label) * 2
		if w > 2*badgeRadius-4 {
			w = 2*badgeRadius - 4
		}
		h := 22
		drawText(img, label, image.Rect(cx-w/2, cy-h/2, cx-w/2+w, cy-h/2+h))
	}
	return img
}

// drawText rasterises s with the fixed 7x13 face and scales it into r.
func drawText(dst draw.Image, s string, r image.Rectangle) {
	face := basicfont.Face7x13
	glyphs := image.NewRGBA(image.Rect(0, 0, face.Advance*len(s), face.Height))
	d := &font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(White),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(s)
	draw.NearestNeighbor.Scale(dst, r, glyphs, glyphs.Bounds(), draw.Over, nil)
}

func fillCircle(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// PNG returns the icon encoded as PNG.
func PNG(count int, connected bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, Render(count, connected)); err != nil {
		return nil, fmt.Errorf("failed to encode icon: %w", err)
	}
	return buf.Bytes(), nil
}

// ICO returns the icon as a single-image ICO file with PNG payload, the
// format the Windows tray expects.
func ICO(count int, connected bool) ([]byte, error) {
	data, err := PNG(count, connected)
	if err != nil {
		return nil, err
	}
	return wrapICO(data, Size), nil
}

func wrapICO(pngData []byte, size int) []byte {
	const headerLen = 6 + 16

	var buf bytes.Buffer
	buf.Grow(headerLen + len(pngData))

	// ICONDIR
	binary.Write(&buf, binary.LittleEndian, [3]uint16{0, 1, 1})

	// ICONDIRENTRY; 0 means 256
	dim := byte(size)
	if size >= 256 {
		dim = 0
	}
	buf.Write([]byte{dim, dim, 0, 0})
	binary.Write(&buf, binary.LittleEndian, struct {
		Planes   uint16
		BitCount uint16
		Bytes    uint32
		Offset   uint32
	}{1, 32, uint32(len(pngData)), headerLen})

	buf.Write(pngData)
	return buf.Bytes()
}
