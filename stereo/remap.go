package stereo

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nznobody/machine-vision-acquisition/calibration"
)

// Sub-pixel precision of the remap tables. Source coordinates are stored as
// an int16 integer part plus a packed pair of 5-bit fractions.
const (
	subPixelBits  = 5
	subPixelScale = 1 << subPixelBits
	subPixelMask  = subPixelScale - 1
)

// RemapTable is a precomputed undistort-and-rectify lookup. For every
// destination pixel it stores the source coordinate to sample, in fixed
// point, so applying the table is a bilinear gather with no per-pixel
// geometry.
type RemapTable struct {
	width, height int
	coords        []int16  // two per pixel, x then y
	frac          []uint16 // fy*subPixelScale + fx
}

// NewRemapTable traces every destination pixel of the rectified view back
// through the inverse of p*r, distorts it with the camera's model and
// denormalizes it into source pixels. r is the rectifying rotation, p the
// new projection for this camera.
func NewRemapTable(c *calibration.Calibration, r, p *mat.Dense) (*RemapTable, error) {
	model, err := newDistortionModel(c.Model, c.DistCoeffs)
	if err != nil {
		return nil, err
	}
	k := c.Matrix()

	var ir mat.Dense
	if err := ir.Inverse(composeProjection(p, r)); err != nil {
		return nil, errors.Wrap(err, "singular rectification transform")
	}

	rt := &RemapTable{
		width:  c.Width,
		height: c.Height,
		coords: make([]int16, 2*c.Width*c.Height),
		frac:   make([]uint16, c.Width*c.Height),
	}
	for v := 0; v < c.Height; v++ {
		for u := 0; u < c.Width; u++ {
			fu, fv := float64(u), float64(v)
			w := ir.At(2, 0)*fu + ir.At(2, 1)*fv + ir.At(2, 2)
			x := (ir.At(0, 0)*fu + ir.At(0, 1)*fv + ir.At(0, 2)) / w
			y := (ir.At(1, 0)*fu + ir.At(1, 1)*fv + ir.At(1, 2)) / w
			xd, yd := model.distort(x, y)
			su, sv := denormalizePixel(k, xd, yd)

			iu := saturateInt(math.Round(su * subPixelScale))
			iv := saturateInt(math.Round(sv * subPixelScale))
			i := v*c.Width + u
			rt.coords[2*i] = clampInt16(iu >> subPixelBits)
			rt.coords[2*i+1] = clampInt16(iv >> subPixelBits)
			rt.frac[i] = uint16((iv&subPixelMask)<<subPixelBits | iu&subPixelMask)
		}
	}
	return rt, nil
}

// Apply resamples src through the table with bilinear interpolation.
// Destination pixels whose source lands outside the image come out black.
func (rt *RemapTable) Apply(src image.Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, rt.width, rt.height))
	bounds := src.Bounds()
	for v := 0; v < rt.height; v++ {
		for u := 0; u < rt.width; u++ {
			i := v*rt.width + u
			sx := int(rt.coords[2*i])
			sy := int(rt.coords[2*i+1])
			f := rt.frac[i]
			fx := float64(f&subPixelMask) / subPixelScale
			fy := float64(f>>subPixelBits) / subPixelScale

			var rAcc, gAcc, bAcc, aAcc float64
			for _, n := range [4]struct {
				dx, dy int
				w      float64
			}{
				{0, 0, (1 - fx) * (1 - fy)},
				{1, 0, fx * (1 - fy)},
				{0, 1, (1 - fx) * fy},
				{1, 1, fx * fy},
			} {
				if n.w == 0 {
					continue
				}
				px := bounds.Min.X + sx + n.dx
				py := bounds.Min.Y + sy + n.dy
				if !(image.Point{X: px, Y: py}.In(bounds)) {
					continue
				}
				cr, cg, cb, ca := src.At(px, py).RGBA()
				rAcc += n.w * float64(cr>>8)
				gAcc += n.w * float64(cg>>8)
				bAcc += n.w * float64(cb>>8)
				aAcc += n.w * float64(ca>>8)
			}
			out.SetRGBA(u, v, color.RGBA{
				R: uint8(rAcc + 0.5),
				G: uint8(gAcc + 0.5),
				B: uint8(bAcc + 0.5),
				A: uint8(aAcc + 0.5),
			})
		}
	}
	return out
}

// Width returns the table's destination width in pixels.
func (rt *RemapTable) Width() int {
	return rt.width
}

// Height returns the table's destination height in pixels.
func (rt *RemapTable) Height() int {
	return rt.height
}

func saturateInt(v float64) int {
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	}
	return int(v)
}

func clampInt16(v int) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
