// Package viz renders segmentation results and training curves as PNG files.
package viz

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"github.com/pkg/errors"

	"github.com/born-ml/unet/internal/dataset"
	"github.com/born-ml/unet/internal/tensor"
)

// Gutter is the gap in pixels between panels.
const Gutter = 4

// Palette assigns a colour to every class id.
type Palette []color.RGBA

// DefaultPalette is black for background followed by well separated hues.
var DefaultPalette = Palette{
	{0, 0, 0, 255},
	{230, 25, 75, 255},
	{60, 180, 75, 255},
	{255, 225, 25, 255},
	{0, 130, 200, 255},
	{245, 130, 48, 255},
	{145, 30, 180, 255},
	{70, 240, 240, 255},
	{240, 50, 230, 255},
	{210, 245, 60, 255},
	{250, 190, 212, 255},
	{0, 128, 128, 255},
	{220, 190, 255, 255},
	{170, 110, 40, 255},
	{255, 250, 200, 255},
	{128, 0, 0, 255},
}

// Color returns the colour of class; ids past the palette wrap around.
func (p Palette) Color(class int64) color.RGBA {
	if class < 0 {
		return color.RGBA{A: 255}
	}
	return p[int(class)%len(p)]
}

// ColorizeMask paints each pixel with the colour of its class.
func ColorizeMask(m *dataset.Mask, pal Palette) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			img.SetRGBA(x, y, pal.Color(m.At(x, y)))
		}
	}
	return img
}

// Denormalize undoes the per-channel normalisation of sample index in
// images [N,3,H,W] and returns it as an 8-bit image.
func Denormalize[B tensor.Backend](images *tensor.Tensor[float32, B], index int, mean, std [3]float32) (*image.NRGBA, error) {
	s := images.Shape()
	if len(s) != 4 || s[1] != 3 || index < 0 || index >= s[0] {
		return nil, errors.Errorf("denormalize: sample %d of images %v", index, s)
	}
	h, w := s[2], s[3]
	plane := h * w
	px := images.Data()[index*3*plane : (index+1)*3*plane]

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := y*w + x
			var c [3]uint8
			for ch := 0; ch < 3; ch++ {
				v := (px[ch*plane+o]*std[ch] + mean[ch]) * 255
				c[ch] = uint8(min(max(v+0.5, 0), 255))
			}
			img.SetNRGBA(x, y, color.NRGBA{R: c[0], G: c[1], B: c[2], A: 255})
		}
	}
	return img, nil
}

// RenderPanels places the image, the ground truth and the prediction side
// by side on a white background.
func RenderPanels(img image.Image, truth, pred *dataset.Mask, pal Palette) (*image.RGBA, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	for _, m := range []*dataset.Mask{truth, pred} {
		if m.Width != w || m.Height != h {
			return nil, errors.Errorf("render panels: mask %dx%d does not match image %dx%d", m.Width, m.Height, w, h)
		}
	}

	out := image.NewRGBA(image.Rect(0, 0, 3*w+2*Gutter, h))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	panels := []image.Image{img, ColorizeMask(truth, pal), ColorizeMask(pred, pal)}
	for i, p := range panels {
		x0 := i * (w + Gutter)
		draw.Draw(out, image.Rect(x0, 0, x0+w, h), p, p.Bounds().Min, draw.Src)
	}
	return out, nil
}

// SavePNG encodes img to path.
func SavePNG(path string, img image.Image) error {
	//nolint:gosec // G304: output path is user supplied.
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "save png")
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

// StackRows places rows top to bottom, left aligned, separated by Gutter.
func StackRows(rows []*image.RGBA) *image.RGBA {
	w, h := 0, 0
	for i, r := range rows {
		w = max(w, r.Bounds().Dx())
		h += r.Bounds().Dy()
		if i > 0 {
			h += Gutter
		}
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	y := 0
	for _, r := range rows {
		b := r.Bounds()
		draw.Draw(out, image.Rect(0, y, b.Dx(), y+b.Dy()), r, b.Min, draw.Src)
		y += b.Dy() + Gutter
	}
	return out
}
