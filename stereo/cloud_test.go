package stereo

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
)

func TestDisparityToPointCloud(t *testing.T) {
	logger := golog.NewTestLogger(t)
	left := pinholeCalib([3]float64{0, 0, 0}, nil)
	right := pinholeCalib([3]float64{-100, 0, 0}, nil)
	sp, err := NewStereoProcessor(left, right, logger)
	test.That(t, err, test.ShouldBeNil)

	dm := NewDisparityMap(1280, 1024)
	// on the principal point: depth 100*1024/512 = 200mm straight ahead
	dm.Set(640, 512, 512)
	// 256px right of center at full-focal disparity: (25, 0, 100)
	dm.Set(896, 512, 1024)
	// none of these carry range information
	dm.Set(0, 0, float32(math.Inf(1)))
	dm.Set(1, 0, float32(math.NaN()))
	dm.Set(2, 0, -3)

	rect := image.NewRGBA(image.Rect(0, 0, 1280, 1024))
	rect.SetRGBA(640, 512, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	rect.SetRGBA(896, 512, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	pc, err := sp.DisparityToPointCloud(dm, rect)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)

	d, got := pc.At(0, 0, 200)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d.HasColor(), test.ShouldBeTrue)
	r, g, b := d.RGB255()
	test.That(t, r, test.ShouldEqual, 200)
	test.That(t, g, test.ShouldEqual, 100)
	test.That(t, b, test.ShouldEqual, 50)

	d, got = pc.At(25, 0, 100)
	test.That(t, got, test.ShouldBeTrue)
	r, g, b = d.RGB255()
	test.That(t, r, test.ShouldEqual, 10)
	test.That(t, g, test.ShouldEqual, 20)
	test.That(t, b, test.ShouldEqual, 30)
}

func TestDisparityToPointCloudColorless(t *testing.T) {
	logger := golog.NewTestLogger(t)
	left := pinholeCalib([3]float64{0, 0, 0}, nil)
	right := pinholeCalib([3]float64{-100, 0, 0}, nil)
	sp, err := NewStereoProcessor(left, right, logger)
	test.That(t, err, test.ShouldBeNil)

	dm := NewDisparityMap(1280, 1024)
	dm.Set(640, 512, 512)

	pc, err := sp.DisparityToPointCloud(dm, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 1)
	d, got := pc.At(0, 0, 200)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d.HasColor(), test.ShouldBeFalse)
}

func TestDisparityToPointCloudSizeMismatch(t *testing.T) {
	logger := golog.NewTestLogger(t)
	left := pinholeCalib([3]float64{0, 0, 0}, nil)
	right := pinholeCalib([3]float64{-100, 0, 0}, nil)
	sp, err := NewStereoProcessor(left, right, logger)
	test.That(t, err, test.ShouldBeNil)

	_, err = sp.DisparityToPointCloud(NewDisparityMap(4, 4), nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "dimensions don't match")

	dm := NewDisparityMap(1280, 1024)
	_, err = sp.DisparityToPointCloud(dm, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "rectified image and calibration")
}
