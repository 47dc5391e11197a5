package stereo

import (
	"image"
	"image/color"
	"math"

	"github.com/edaniels/golog"
)

// DisparityMap is a dense grid of horizontal disparities in pixels. Pixels a
// matcher could not resolve hold +Inf or NaN; every consumer here treats
// those, and only those, as invalid.
type DisparityMap struct {
	width, height int
	data          []float32
}

// NewDisparityMap returns a zeroed width x height disparity map.
func NewDisparityMap(width, height int) *DisparityMap {
	return &DisparityMap{
		width:  width,
		height: height,
		data:   make([]float32, width*height),
	}
}

func (dm *DisparityMap) kxy(x, y int) int {
	return y*dm.width + x
}

// Width returns the map width in pixels.
func (dm *DisparityMap) Width() int {
	return dm.width
}

// Height returns the map height in pixels.
func (dm *DisparityMap) Height() int {
	return dm.height
}

// Get returns the disparity at (x, y).
func (dm *DisparityMap) Get(x, y int) float32 {
	return dm.data[dm.kxy(x, y)]
}

// Set writes the disparity at (x, y).
func (dm *DisparityMap) Set(x, y int, v float32) {
	dm.data[dm.kxy(x, y)] = v
}

// Clone returns an independent copy of the map.
func (dm *DisparityMap) Clone() *DisparityMap {
	out := NewDisparityMap(dm.width, dm.height)
	copy(out.data, dm.data)
	return out
}

func invalidDisparity(v float32) bool {
	f := float64(v)
	return math.IsInf(f, 1) || math.IsNaN(f)
}

// maxValid is the largest valid disparity, clipped up to 1 so scaling by it
// is always well defined.
func (dm *DisparityMap) maxValid() float64 {
	oldMax := math.Inf(-1)
	for _, v := range dm.data {
		if invalidDisparity(v) {
			continue
		}
		if f := float64(v); f > oldMax {
			oldMax = f
		}
	}
	if oldMax <= 0 {
		golog.Global().Debug("clipping old max < 0 to 1")
		oldMax = 1.0
	}
	return oldMax
}

// NormalizeDisparity16 stretches valid disparities onto the full uint16
// range. Invalid pixels and pixels scaling below zero come out black.
func NormalizeDisparity16(dm *DisparityMap) *image.Gray16 {
	oldMax := dm.maxValid()
	golog.Global().Debugf("normalising disparity max from %v to %d", oldMax, math.MaxUint16)
	img := image.NewGray16(image.Rect(0, 0, dm.width, dm.height))
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			v := dm.data[dm.kxy(x, y)]
			if invalidDisparity(v) {
				continue
			}
			scaled := float64(v) / oldMax * math.MaxUint16
			switch {
			case scaled < 0:
				scaled = 0
			case scaled > math.MaxUint16:
				scaled = math.MaxUint16
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(scaled)})
		}
	}
	return img
}

// NormalizeDisparity8 stretches valid disparities onto the full uint8 range.
// Invalid pixels and pixels scaling below zero come out black.
func NormalizeDisparity8(dm *DisparityMap) *image.Gray {
	oldMax := dm.maxValid()
	golog.Global().Debugf("normalising disparity max from %v to %d", oldMax, math.MaxUint8)
	img := image.NewGray(image.Rect(0, 0, dm.width, dm.height))
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			v := dm.data[dm.kxy(x, y)]
			if invalidDisparity(v) {
				continue
			}
			scaled := float64(v) / oldMax * math.MaxUint8
			switch {
			case scaled < 0:
				scaled = 0
			case scaled > math.MaxUint8:
				scaled = math.MaxUint8
			}
			img.SetGray(x, y, color.Gray{Y: uint8(scaled)})
		}
	}
	return img
}

// ShiftDisparityDown compresses disparities towards zero by removing the
// empty range between 0 and the smallest positive value. A map with no
// positive values is returned as is. Invalid pixels keep their sentinels.
func ShiftDisparityDown(dm *DisparityMap) *DisparityMap {
	maxV := math.Inf(-1)
	for _, v := range dm.data {
		if f := float64(v); f > maxV {
			maxV = f
		}
	}
	if maxV <= 0 {
		return dm
	}
	minPositive := math.Inf(1)
	for _, v := range dm.data {
		if f := float64(v); v > 0 && f < minPositive {
			minPositive = f
		}
	}
	shift := float32(minPositive + 1)
	out := NewDisparityMap(dm.width, dm.height)
	for i, v := range dm.data {
		nv := v - shift
		if nv < 0 {
			nv = 0
		}
		out.data[i] = nv
	}
	return out
}
