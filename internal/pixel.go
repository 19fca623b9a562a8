package internal

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

const (
	PixelVersion = "pixel-v1"

	pixelGrid = 16
	pixelBins = 256
)

var _ Backend = (*PixelBackend)(nil)

// PixelBackend describes an image by a mean-centered 16x16 luminance grid followed
// by a 256-bin RGB histogram (8x8x4 buckets). It is deterministic and has no text path.
type PixelBackend struct {
	version string
}

func NewPixelBackend(version string) *PixelBackend {
	return &PixelBackend{version: version}
}

func newPixelBackend(_ context.Context, kind Kind, mc ModelConfig, _ InferenceConfig) (Backend, error) {
	if kind.Dimension() != pixelGrid*pixelGrid+pixelBins {
		return nil, fmt.Errorf("%w: pixel backend produces %d floats, %s needs %d",
			ErrConfig, pixelGrid*pixelGrid+pixelBins, kind, kind.Dimension())
	}
	return NewPixelBackend(mc.Version), nil
}

func (p *PixelBackend) Embed(ctx context.Context, c Content) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(c.Data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("decode image: empty bounds")
	}

	var (
		lum    [pixelGrid * pixelGrid]float64
		counts [pixelGrid * pixelGrid]float64
		hist   [pixelBins]float64
	)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cy := (y - b.Min.Y) * pixelGrid / h
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			r8, g8, b8 := r>>8, g>>8, bl>>8

			cell := cy*pixelGrid + (x-b.Min.X)*pixelGrid/w
			lum[cell] += 0.299*float64(r8) + 0.587*float64(g8) + 0.114*float64(b8)
			counts[cell]++

			hist[(r8>>5)<<5|(g8>>5)<<2|b8>>6]++
		}
	}

	vec := make([]float32, 0, pixelGrid*pixelGrid+pixelBins)

	var mean float64
	for i := range lum {
		if counts[i] > 0 {
			lum[i] /= counts[i]
		}
		mean += lum[i]
	}
	mean /= float64(len(lum))
	for i := range lum {
		vec = append(vec, float32((lum[i]-mean)/255))
	}

	total := float64(w * h)
	for i := range hist {
		vec = append(vec, float32(hist[i]/total))
	}

	return l2Normalize(vec), nil
}

func (p *PixelBackend) Dimension() int {
	return pixelGrid*pixelGrid + pixelBins
}

func (p *PixelBackend) Version() string {
	return p.version
}

func (p *PixelBackend) Close() error {
	return nil
}
