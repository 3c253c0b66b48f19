package cv

import (
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// ToRGBA converts any image into an owned, opaque RGBA anchored at (0,0)
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return ownedFrame(rgba)
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	for i := 3; i < len(rgba.Pix); i += 4 {
		rgba.Pix[i] = 0xFF
	}
	return rgba
}

// CropRegion extracts a rectangular region from an image. The result is
// anchored at (0,0).
func CropRegion(img *image.RGBA, rect image.Rectangle) *image.RGBA {
	rect = rect.Intersect(img.Bounds())
	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		src := img.Pix[img.PixOffset(rect.Min.X, rect.Min.Y+y):]
		copy(cropped.Pix[y*cropped.Stride:y*cropped.Stride+rect.Dx()*4], src[:rect.Dx()*4])
	}
	return cropped
}

// Resize scales img to w x h with bilinear interpolation
func Resize(img *image.RGBA, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// toGrayscale converts RGBA to a single luma plane (BT.601)
func toGrayscale(img *image.RGBA) *plane {
	b := img.Bounds()
	p := newPlane(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < b.Dx(); x++ {
			r := int(row[x*4])
			g := int(row[x*4+1])
			bl := int(row[x*4+2])
			p.pix[y*p.w+x] = float64((r*299 + g*587 + bl*114) / 1000)
		}
	}
	return p
}

// toChannels splits RGBA into one plane per color channel
func toChannels(img *image.RGBA) []*plane {
	b := img.Bounds()
	channels := []*plane{newPlane(b.Dx(), b.Dy()), newPlane(b.Dx(), b.Dy()), newPlane(b.Dx(), b.Dy())}
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < b.Dx(); x++ {
			for c := 0; c < 3; c++ {
				channels[c].pix[y*b.Dx()+x] = float64(row[x*4+c])
			}
		}
	}
	return channels
}

// plane is a single-channel float image
type plane struct {
	w, h int
	pix  []float64
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, pix: make([]float64, w*h)}
}

func (p *plane) at(x, y int) float64 {
	return p.pix[y*p.w+x]
}
