package stereo

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestNormalizeDisparity16(t *testing.T) {
	dm := NewDisparityMap(2, 2)
	dm.Set(0, 0, 16)
	dm.Set(1, 0, 64)
	dm.Set(0, 1, float32(math.Inf(1)))
	dm.Set(1, 1, float32(math.NaN()))

	img := NormalizeDisparity16(dm)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 2)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 2)
	// the largest valid value stretches to full scale
	test.That(t, img.Gray16At(1, 0).Y, test.ShouldEqual, uint16(65535))
	test.That(t, img.Gray16At(0, 0).Y, test.ShouldEqual, uint16(16383))
	// sentinels come out black
	test.That(t, img.Gray16At(0, 1).Y, test.ShouldEqual, uint16(0))
	test.That(t, img.Gray16At(1, 1).Y, test.ShouldEqual, uint16(0))
}

func TestNormalizeDisparity8(t *testing.T) {
	dm := NewDisparityMap(2, 2)
	dm.Set(0, 0, -3)
	dm.Set(1, 0, 2)
	dm.Set(0, 1, 1)

	img := NormalizeDisparity8(dm)
	test.That(t, img.GrayAt(0, 0).Y, test.ShouldEqual, uint8(0))
	test.That(t, img.GrayAt(1, 0).Y, test.ShouldEqual, uint8(255))
	test.That(t, img.GrayAt(0, 1).Y, test.ShouldEqual, uint8(127))
	test.That(t, img.GrayAt(1, 1).Y, test.ShouldEqual, uint8(0))
}

func TestNormalizeDisparityNoPositives(t *testing.T) {
	// max clips up to 1 so the scale stays defined; nothing lands above 0
	dm := NewDisparityMap(2, 2)
	dm.Set(0, 0, -5)
	dm.Set(1, 0, 0)
	dm.Set(0, 1, float32(math.Inf(1)))
	dm.Set(1, 1, float32(math.NaN()))

	img := NormalizeDisparity16(dm)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			test.That(t, img.Gray16At(x, y).Y, test.ShouldEqual, uint16(0))
		}
	}
}

func TestShiftDisparityDown(t *testing.T) {
	dm := NewDisparityMap(2, 2)
	dm.Set(0, 0, 0)
	dm.Set(1, 0, 5)
	dm.Set(0, 1, 6)
	dm.Set(1, 1, 9)

	out := ShiftDisparityDown(dm)
	test.That(t, out.Get(0, 0), test.ShouldEqual, float32(0))
	test.That(t, out.Get(1, 0), test.ShouldEqual, float32(0))
	test.That(t, out.Get(0, 1), test.ShouldEqual, float32(0))
	test.That(t, out.Get(1, 1), test.ShouldEqual, float32(3))
	// the input map is left alone
	test.That(t, dm.Get(1, 1), test.ShouldEqual, float32(9))
}

func TestShiftDisparityDownIdempotentAtFloor(t *testing.T) {
	dm := NewDisparityMap(2, 1)
	dm.Set(0, 0, 0)
	dm.Set(1, 0, 5)
	once := ShiftDisparityDown(dm)
	test.That(t, once.Get(1, 0), test.ShouldEqual, float32(0))
	// everything at the floor: a second pass has nothing to compress
	test.That(t, ShiftDisparityDown(once), test.ShouldEqual, once)
}

func TestShiftDisparityDownNoop(t *testing.T) {
	dm := NewDisparityMap(2, 1)
	dm.Set(0, 0, 0)
	dm.Set(1, 0, -2)
	// nothing to compress, the very same map comes back
	test.That(t, ShiftDisparityDown(dm), test.ShouldEqual, dm)
}

func TestShiftDisparityDownSentinels(t *testing.T) {
	dm := NewDisparityMap(2, 2)
	dm.Set(0, 0, 3)
	dm.Set(1, 0, float32(math.Inf(1)))
	dm.Set(0, 1, float32(math.NaN()))
	dm.Set(1, 1, 7)

	out := ShiftDisparityDown(dm)
	test.That(t, out.Get(0, 0), test.ShouldEqual, float32(0))
	test.That(t, math.IsInf(float64(out.Get(1, 0)), 1), test.ShouldBeTrue)
	test.That(t, math.IsNaN(float64(out.Get(0, 1))), test.ShouldBeTrue)
	test.That(t, out.Get(1, 1), test.ShouldEqual, float32(3))
}

func TestDisparityMapClone(t *testing.T) {
	dm := NewDisparityMap(2, 1)
	dm.Set(0, 0, 4)
	cl := dm.Clone()
	cl.Set(0, 0, 8)
	test.That(t, dm.Get(0, 0), test.ShouldEqual, float32(4))
	test.That(t, cl.Get(0, 0), test.ShouldEqual, float32(8))
}
