package stereo

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nznobody/machine-vision-acquisition/calibration"
)

// distortionModel is the pair of projection primitives every supported camera
// model provides, working on normalized image coordinates: distort applies
// the lens model, undistort inverts it.
type distortionModel interface {
	distort(x, y float64) (float64, float64)
	undistort(x, y float64) (float64, float64)
}

// newDistortionModel is the single dispatch point from a calibration's camera
// model to its distortion math. Unknown models never fall through to a
// default; they fail here.
func newDistortionModel(model calibration.CameraModel, coeffs []float64) (distortionModel, error) {
	switch model {
	case calibration.ModelPinhole:
		return newBrownConrady(coeffs)
	case calibration.ModelFisheye:
		return newKannalaBrandt(coeffs)
	default:
		return nil, NewUnsupportedModelError(model)
	}
}

// brownConrady is the rational polynomial distortion model of a pinhole
// camera with coefficients in the order (k1, k2, p1, p2, k3, k4, k5, k6).
type brownConrady struct {
	k1, k2, p1, p2, k3, k4, k5, k6 float64
}

// newBrownConrady takes in a slice of distortion coefficients, zero-filling
// the tail the calibration left off.
func newBrownConrady(coeffs []float64) (*brownConrady, error) {
	switch len(coeffs) {
	case 0, 4, 5, 8:
	default:
		return nil, errors.Errorf("expected 0, 4, 5 or 8 distortion coefficients, got %d", len(coeffs))
	}
	c := make([]float64, 8)
	copy(c, coeffs)
	return &brownConrady{c[0], c[1], c[2], c[3], c[4], c[5], c[6], c[7]}, nil
}

// distort applies the forward model
//
//	x_d = x*(1 + k1*r² + k2*r⁴ + k3*r⁶)/(1 + k4*r² + k5*r⁴ + k6*r⁶) + 2*p1*x*y + p2*(r² + 2*x²)
//	y_d = y*(1 + k1*r² + k2*r⁴ + k3*r⁶)/(1 + k4*r² + k5*r⁴ + k6*r⁶) + p1*(r² + 2*y²) + 2*p2*x*y
func (bc *brownConrady) distort(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	radial := (1 + r2*(bc.k1+r2*(bc.k2+r2*bc.k3))) / (1 + r2*(bc.k4+r2*(bc.k5+r2*bc.k6)))
	xd := x*radial + 2*bc.p1*x*y + bc.p2*(r2+2*x*x)
	yd := y*radial + bc.p1*(r2+2*y*y) + 2*bc.p2*x*y
	return xd, yd
}

// undistort inverts distort by compensated fixed-point iteration, the same
// scheme OpenCV's undistortPoints runs during rectification.
func (bc *brownConrady) undistort(x, y float64) (float64, float64) {
	const iterations = 5
	x0, y0 := x, y
	for i := 0; i < iterations; i++ {
		r2 := x*x + y*y
		icdist := (1 + r2*(bc.k4+r2*(bc.k5+r2*bc.k6))) / (1 + r2*(bc.k1+r2*(bc.k2+r2*bc.k3)))
		if icdist < 0 {
			return x0, y0
		}
		dx := 2*bc.p1*x*y + bc.p2*(r2+2*x*x)
		dy := bc.p1*(r2+2*y*y) + 2*bc.p2*x*y
		x = (x0 - dx) * icdist
		y = (y0 - dy) * icdist
	}
	return x, y
}

// kannalaBrandt is the equidistant fisheye distortion model with exactly four
// coefficients (k1..k4).
type kannalaBrandt struct {
	k1, k2, k3, k4 float64
}

func newKannalaBrandt(coeffs []float64) (*kannalaBrandt, error) {
	if len(coeffs) != 4 {
		return nil, errors.Errorf("fisheye model expects exactly 4 distortion coefficients, got %d", len(coeffs))
	}
	return &kannalaBrandt{coeffs[0], coeffs[1], coeffs[2], coeffs[3]}, nil
}

// distort applies the forward model: with theta the angle of the incoming ray,
//
//	theta_d = theta*(1 + k1*theta² + k2*theta⁴ + k3*theta⁶ + k4*theta⁸)
//
// and the normalized coordinates are scaled by theta_d/r.
func (kb *kannalaBrandt) distort(x, y float64) (float64, float64) {
	r := math.Sqrt(x*x + y*y)
	if r == 0 {
		return x, y
	}
	theta := math.Atan(r)
	t2 := theta * theta
	thetaD := theta * (1 + t2*(kb.k1+t2*(kb.k2+t2*(kb.k3+t2*kb.k4))))
	scale := thetaD / r
	return x * scale, y * scale
}

// undistort inverts the theta polynomial with Newton's method. Points the
// iteration cannot bring back inside the valid 180 degree field of view are
// pushed far outside the image, mirroring OpenCV's fisheye convention.
func (kb *kannalaBrandt) undistort(x, y float64) (float64, float64) {
	const (
		maxIterations = 10
		eps           = 1e-8
		badPoint      = -1000000.0
	)
	thetaD := math.Sqrt(x*x + y*y)
	thetaD = math.Min(math.Max(-math.Pi/2, thetaD), math.Pi/2)
	if math.Abs(thetaD) <= eps {
		return x, y
	}

	theta := thetaD
	converged := false
	for i := 0; i < maxIterations; i++ {
		t2 := theta * theta
		t4 := t2 * t2
		t6 := t4 * t2
		t8 := t6 * t2
		k1t2 := kb.k1 * t2
		k2t4 := kb.k2 * t4
		k3t6 := kb.k3 * t6
		k4t8 := kb.k4 * t8
		fix := (theta*(1+k1t2+k2t4+k3t6+k4t8) - thetaD) /
			(1 + 3*k1t2 + 5*k2t4 + 7*k3t6 + 9*k4t8)
		theta -= fix
		if math.Abs(fix) < eps {
			converged = true
			break
		}
	}
	if !converged || (theta < 0) != (thetaD < 0) {
		return badPoint, badPoint
	}
	scale := math.Tan(theta) / thetaD
	return x * scale, y * scale
}

// normalizePixel maps a pixel to normalized image coordinates through the
// camera matrix.
func normalizePixel(k *mat.Dense, u, v float64) (float64, float64) {
	return (u - k.At(0, 2)) / k.At(0, 0), (v - k.At(1, 2)) / k.At(1, 1)
}

// denormalizePixel maps normalized image coordinates back to pixels.
func denormalizePixel(k *mat.Dense, x, y float64) (float64, float64) {
	return x*k.At(0, 0) + k.At(0, 2), y*k.At(1, 1) + k.At(1, 2)
}

// undistortPoint lifts a distorted pixel into normalized coordinates and,
// when rr is non-nil, re-projects it through rr with a homogeneous divide.
// Passing the rectifying rotation alone yields normalized rectified
// coordinates; passing P[0:3,0:3]*R yields rectified pixels.
func undistortPoint(k *mat.Dense, model distortionModel, rr *mat.Dense, u, v float64) (float64, float64) {
	x, y := normalizePixel(k, u, v)
	x, y = model.undistort(x, y)
	if rr == nil {
		return x, y
	}
	xx := rr.At(0, 0)*x + rr.At(0, 1)*y + rr.At(0, 2)
	yy := rr.At(1, 0)*x + rr.At(1, 1)*y + rr.At(1, 2)
	ww := rr.At(2, 0)*x + rr.At(2, 1)*y + rr.At(2, 2)
	return xx / ww, yy / ww
}
