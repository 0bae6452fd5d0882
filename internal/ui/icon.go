package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/vector"
)

const iconSize = 32

var iconBytes = renderIcon()

// renderIcon draws a play triangle on a rounded-off square.
func renderIcon() []byte {
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))

	bg := vector.NewRasterizer(iconSize, iconSize)
	bg.MoveTo(4, 2)
	bg.LineTo(28, 2)
	bg.QuadTo(30, 2, 30, 4)
	bg.LineTo(30, 28)
	bg.QuadTo(30, 30, 28, 30)
	bg.LineTo(4, 30)
	bg.QuadTo(2, 30, 2, 28)
	bg.LineTo(2, 4)
	bg.QuadTo(2, 2, 4, 2)
	bg.ClosePath()
	bg.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{0xE5, 0x3E, 0x3E, 0xFF}), image.Point{})

	play := vector.NewRasterizer(iconSize, iconSize)
	play.MoveTo(12, 9)
	play.LineTo(24, 16)
	play.LineTo(12, 23)
	play.ClosePath()
	play.Draw(img, img.Bounds(), image.White, image.Point{})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
