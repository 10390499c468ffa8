package editor

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/gogpu/rhi"
)

// frameImage converts tightly packed 8-bit RGBA or BGRA texels into an
// image, scaled by scale with Catmull-Rom filtering.
func frameImage(texels []byte, w, h int, format rhi.Format, scale float64) (*image.RGBA, error) {
	if (format.Type != rhi.TypeUNorm8 && format.Type != rhi.TypeSRGB8) || (format.Layout != rhi.LayoutRGBA && format.Layout != rhi.LayoutBGRA) {
		return nil, fmt.Errorf("%w: capture of %s", rhi.ErrUnsupportedFormat, format)
	}
	if len(texels) < w*h*4 {
		return nil, fmt.Errorf("%w: %d bytes for a %dx%d frame", rhi.ErrBufferOverflow, len(texels), w, h)
	}
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(src.Pix, texels[:w*h*4])
	if format.Layout == rhi.LayoutBGRA {
		for i := 0; i < len(src.Pix); i += 4 {
			src.Pix[i], src.Pix[i+2] = src.Pix[i+2], src.Pix[i]
		}
	}
	if scale <= 0 || scale == 1 {
		return src, nil
	}
	dw, dh := max(int(float64(w)*scale), 1), max(int(float64(h)*scale), 1)
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// writePNG writes img to path, creating parent directories.
func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
