package stereo

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/nznobody/machine-vision-acquisition/calibration"
)

type fakeMatcher struct {
	out *DisparityMap
}

func (m *fakeMatcher) ComputeDisparity(left, right image.Image) (*DisparityMap, error) {
	return m.out, nil
}

func TestNewStereoProcessor(t *testing.T) {
	logger := golog.NewTestLogger(t)
	left := pinholeCalib([3]float64{0, 0, 0}, nil)
	right := pinholeCalib([3]float64{-100, 0, 0}, nil)

	sp, err := NewStereoProcessor(left, right, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sp.Model(), test.ShouldEqual, calibration.ModelPinhole)
	test.That(t, sp.ImageSize(), test.ShouldResemble, image.Point{X: 1280, Y: 1024})
	test.That(t, sp.BaselineMM(), test.ShouldAlmostEqual, 100)
	test.That(t, sp.Params().P2.At(0, 3), test.ShouldEqual, -102400.)

	// depth from the explicit formula agrees with the Q matrix's focal row
	test.That(t, sp.DisparityToDepthMM(512), test.ShouldAlmostEqual, 200)
	test.That(t, sp.DisparityToDepthMM(256), test.ShouldAlmostEqual, 400)

	p := sp.ProjectPixelToCameraSpace(640, 512, 512)
	test.That(t, p.X, test.ShouldAlmostEqual, 0)
	test.That(t, p.Y, test.ShouldAlmostEqual, 0)
	test.That(t, p.Z, test.ShouldAlmostEqual, 200)
}

func TestNewStereoProcessorValidation(t *testing.T) {
	logger := golog.NewTestLogger(t)
	good := pinholeCalib([3]float64{0, 0, 0}, nil)

	_, err := NewStereoProcessor(&calibration.Calibration{}, good, logger)
	test.That(t, err, test.ShouldWrap, calibration.ErrNoCalibration)

	shrunk := pinholeCalib([3]float64{-100, 0, 0}, nil)
	shrunk.Width = 640
	_, err = NewStereoProcessor(good, shrunk, logger)
	test.That(t, err, test.ShouldWrap, ErrConfigMismatch)

	mixed := pinholeCalib([3]float64{-100, 0, 0}, nil)
	mixed.Model = calibration.ModelFisheye
	_, err = NewStereoProcessor(good, mixed, logger)
	test.That(t, err, test.ShouldWrap, ErrConfigMismatch)

	// a matching pair of unknown models still fails fast at construction
	weirdL := pinholeCalib([3]float64{0, 0, 0}, nil)
	weirdR := pinholeCalib([3]float64{-100, 0, 0}, nil)
	weirdL.Model = "orthographic"
	weirdR.Model = "orthographic"
	_, err = NewStereoProcessor(weirdL, weirdR, logger)
	test.That(t, err, test.ShouldWrap, ErrUnsupportedModel)
}

func TestStereoProcessorRemap(t *testing.T) {
	logger := golog.NewTestLogger(t)
	left := smallCalib()
	right := smallCalib()
	right.TVec = [3]float64{-2, 0, 0}

	sp, err := NewStereoProcessor(left, right, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sp.BaselineMM(), test.ShouldAlmostEqual, 2)

	src := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			src.SetRGBA(x, y, color.RGBA{R: uint8(10 * x), G: uint8(10 * y), A: 255})
		}
	}
	// an undistorted, unrotated pair rectifies onto itself
	outL, outR, err := sp.Remap(src, src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, outL.Bounds(), test.ShouldResemble, image.Rect(0, 0, 8, 6))
	test.That(t, outR.Bounds(), test.ShouldResemble, image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			test.That(t, outL.RGBAAt(x, y), test.ShouldResemble, src.RGBAAt(x, y))
			test.That(t, outR.RGBAAt(x, y), test.ShouldResemble, src.RGBAAt(x, y))
		}
	}

	small := image.NewRGBA(image.Rect(0, 0, 4, 6))
	_, _, err = sp.Remap(small, src)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "dimensions don't match")
}

func TestStereoProcessorMatcher(t *testing.T) {
	logger := golog.NewTestLogger(t)
	left := smallCalib()
	right := smallCalib()
	right.TVec = [3]float64{-2, 0, 0}
	sp, err := NewStereoProcessor(left, right, logger)
	test.That(t, err, test.ShouldBeNil)

	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	_, err = sp.CalculateDisparity(img, img)
	test.That(t, err, test.ShouldBeError, ErrNoMatcher)

	want := NewDisparityMap(8, 6)
	want.Set(2, 3, 1.5)
	sp.SetMatcher(&fakeMatcher{out: want})
	got, err := sp.CalculateDisparity(img, img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, want)
}

func TestStereoProcessorApplyROI(t *testing.T) {
	logger := golog.NewTestLogger(t)
	left := smallCalib()
	right := smallCalib()
	right.TVec = [3]float64{-2, 0, 0}
	sp, err := NewStereoProcessor(left, right, logger)
	test.That(t, err, test.ShouldBeNil)
	// an undistorted pair keeps every pixel valid
	test.That(t, *sp.Params().ValidROI1, test.ShouldResemble, image.Rect(0, 0, 8, 6))

	// shrink the region to exercise masking of the border
	roi := image.Rect(0, 0, 7, 5)
	sp.params.ValidROI1 = &roi

	dm := NewDisparityMap(8, 6)
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			dm.Set(x, y, 9)
		}
	}
	masked, err := sp.ApplyROIToDisparity(dm)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, masked.Get(0, 0), test.ShouldEqual, float32(9))
	test.That(t, masked.Get(6, 4), test.ShouldEqual, float32(9))
	test.That(t, masked.Get(7, 4), test.ShouldEqual, float32(0))
	test.That(t, masked.Get(6, 5), test.ShouldEqual, float32(0))
	// the input is left alone
	test.That(t, dm.Get(7, 5), test.ShouldEqual, float32(9))

	// a degenerate rectangle is rejected the same way as a missing one
	sp.params.ValidROI1 = &image.Rectangle{}
	_, err = sp.ApplyROIToDisparity(dm)
	test.That(t, err, test.ShouldWrap, ErrInvalidROI)
}

func TestStereoProcessorApplyROIFisheye(t *testing.T) {
	logger := golog.NewTestLogger(t)
	mkCalib := func(tvec [3]float64) *calibration.Calibration {
		return &calibration.Calibration{
			Model:        calibration.ModelFisheye,
			Width:        64,
			Height:       48,
			CameraMatrix: []float64{32, 0, 32, 0, 32, 24, 0, 0, 1},
			DistCoeffs:   []float64{0.01, 0, 0, 0},
			TVec:         tvec,
		}
	}
	sp, err := NewStereoProcessor(mkCalib([3]float64{0, 0, 0}), mkCalib([3]float64{-50, 0, 0}), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sp.Params().ValidROI1, test.ShouldBeNil)

	_, err = sp.ApplyROIToDisparity(NewDisparityMap(64, 48))
	test.That(t, err, test.ShouldWrap, ErrInvalidROI)
}

func TestStereoProcessorProjectPoints(t *testing.T) {
	logger := golog.NewTestLogger(t)
	left := pinholeCalib([3]float64{0, 0, 0}, nil)
	right := pinholeCalib([3]float64{-100, 0, 0}, nil)
	sp, err := NewStereoProcessor(left, right, logger)
	test.That(t, err, test.ShouldBeNil)

	pts := mat.NewDense(2, 3, []float64{
		640, 512, 512,
		1152, 768, 256,
	})
	out, err := sp.ProjectPointsToCameraSpace(pts)
	test.That(t, err, test.ShouldBeNil)
	rows, cols := out.Dims()
	test.That(t, rows, test.ShouldEqual, 2)
	test.That(t, cols, test.ShouldEqual, 3)
	test.That(t, out.At(0, 0), test.ShouldAlmostEqual, 0)
	test.That(t, out.At(0, 1), test.ShouldAlmostEqual, 0)
	test.That(t, out.At(0, 2), test.ShouldAlmostEqual, 200)
	test.That(t, out.At(1, 0), test.ShouldAlmostEqual, 200)
	test.That(t, out.At(1, 1), test.ShouldAlmostEqual, 100)
	test.That(t, out.At(1, 2), test.ShouldAlmostEqual, 400)

	// round trip against the rectified projection: reprojecting the depth
	// through the left intrinsics lands back on the pixel
	z := out.At(1, 2)
	test.That(t, out.At(1, 0)/z*1024+640, test.ShouldAlmostEqual, 1152)

	_, err = sp.ProjectPointsToCameraSpace(mat.NewDense(2, 2, nil))
	test.That(t, err, test.ShouldWrap, ErrInvalidPointShape)

	// unmatched pixels produce non-finite depth, passed through unclamped
	test.That(t, math.IsInf(sp.DisparityToDepthMM(0), 1), test.ShouldBeTrue)
}
