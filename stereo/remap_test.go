package stereo

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/nznobody/machine-vision-acquisition/calibration"
)

func smallCalib() *calibration.Calibration {
	return &calibration.Calibration{
		Model:        calibration.ModelPinhole,
		Width:        8,
		Height:       6,
		CameraMatrix: []float64{4, 0, 4, 0, 4, 3, 0, 0, 1},
	}
}

func TestRemapIdentity(t *testing.T) {
	c := smallCalib()
	rt, err := NewRemapTable(c, eye(3), c.Matrix())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rt.Width(), test.ShouldEqual, 8)
	test.That(t, rt.Height(), test.ShouldEqual, 6)

	src := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			src.SetRGBA(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 40), B: uint8(x + y), A: 255})
		}
	}

	// no distortion, no rotation, original projection: a pixel-exact copy
	out := rt.Apply(src)
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			test.That(t, out.RGBAAt(x, y), test.ShouldResemble, src.RGBAAt(x, y))
		}
	}
}

func TestRemapHalfPixelShift(t *testing.T) {
	c := smallCalib()
	// principal point moved half a pixel: every output pixel samples the
	// midpoint of two source neighbors
	p := mat.NewDense(3, 3, []float64{4, 0, 4.5, 0, 4, 3, 0, 0, 1})
	rt, err := NewRemapTable(c, eye(3), p)
	test.That(t, err, test.ShouldBeNil)

	src := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			src.SetRGBA(x, y, color.RGBA{R: uint8(40 + 20*x), A: 255})
		}
	}
	out := rt.Apply(src)

	test.That(t, out.RGBAAt(3, 2).R, test.ShouldEqual, uint8(90))
	test.That(t, out.RGBAAt(3, 2).A, test.ShouldEqual, uint8(255))
	// the left edge interpolates against out-of-image black
	test.That(t, out.RGBAAt(0, 2).R, test.ShouldEqual, uint8(20))
	test.That(t, out.RGBAAt(0, 2).A, test.ShouldEqual, uint8(128))
}

func TestNewRemapTableUnknownModel(t *testing.T) {
	c := smallCalib()
	c.Model = "orthographic"
	_, err := NewRemapTable(c, eye(3), c.Matrix())
	test.That(t, err, test.ShouldWrap, ErrUnsupportedModel)
}
