package model

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxImagePixels caps the decoded size of an upload. Compressed formats can
// declare dimensions far beyond what their byte size suggests.
const MaxImagePixels = 89478485

// Preprocess decodes raw image bytes into a (1, 64, 64, 3) tensor with values
// in [0, 1]. Alpha is discarded and grayscale is expanded to RGB.
func Preprocess(data []byte) (*Tensor, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &ImageError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &ImageError{Err: errors.New("empty image")}
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return nil, &ImageError{Err: fmt.Errorf("image size (%d pixels) exceeds limit of %d pixels",
			int64(cfg.Width)*int64(cfg.Height), MaxImagePixels)}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ImageError{Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &ImageError{Err: errors.New("empty image")}
	}

	scaled := resize.Resize(InputWidth, InputHeight, toRGB(img), resize.Bicubic)
	resized, ok := scaled.(*image.RGBA)
	if !ok {
		resized = toRGB(scaled)
	}

	t := NewInputTensor()
	for y := 0; y < InputHeight; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < InputWidth; x++ {
			px := row[x*4:]
			i := (y*InputWidth + x) * InputChannels
			t.Data[i] = float32(px[0]) / 255
			t.Data[i+1] = float32(px[1]) / 255
			t.Data[i+2] = float32(px[2]) / 255
		}
	}
	return t, nil
}

// toRGB copies img into an opaque RGBA image, dropping alpha rather than
// compositing it.
func toRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 0xff
			dst.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: c.A})
		}
	}
	return dst
}
