package stereo

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/nznobody/machine-vision-acquisition/calibration"
)

// RectificationParams captures the solved rectification of a stereo pair:
// R1/R2 the 3x3 rotations bringing each camera onto the common rectified
// frame, P1/P2 the 3x4 projections in that frame, Q the 4x4
// disparity-to-depth reprojection matrix, and the per-camera rectangles of
// valid (non-border) pixels in the rectified images. The fisheye path does
// not produce valid ROIs, so ValidROI1/ValidROI2 are nil there.
type RectificationParams struct {
	R1, R2    *mat.Dense
	P1, P2    *mat.Dense
	Q         *mat.Dense
	ValidROI1 *image.Rectangle
	ValidROI2 *image.Rectangle
}

// rectF is a float rectangle as (x, y, w, h), the shape the valid-pixel
// bounds are derived in before rounding to image.Rectangle.
type rectF struct {
	x, y, w, h float64
}

// composeProjection folds the rectified projection's intrinsics over the
// rectifying rotation, giving the single homography applied to normalized
// undistorted coordinates.
func composeProjection(p, r *mat.Dense) *mat.Dense {
	p3 := mat.NewDense(3, 3, nil)
	p3.Copy(p.Slice(0, 3, 0, 3))
	out := &mat.Dense{}
	out.Mul(p3, r)
	return out
}

// boundingRects samples a 9x9 grid across the source image, undistorts it
// into the rectified frame, and returns the largest inscribed (inner) and
// smallest enclosing (outer) axis-aligned rectangles of the warped grid.
func boundingRects(k *mat.Dense, model distortionModel, rr *mat.Dense, width, height int) (inner, outer rectF) {
	const n = 9
	iX0, iX1 := math.Inf(-1), math.Inf(1)
	iY0, iY1 := math.Inf(-1), math.Inf(1)
	oX0, oX1 := math.Inf(1), math.Inf(-1)
	oY0, oY1 := math.Inf(1), math.Inf(-1)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			u := float64(i) * float64(width) / (n - 1)
			v := float64(j) * float64(height) / (n - 1)
			x, y := undistortPoint(k, model, rr, u, v)
			oX0 = math.Min(oX0, x)
			oX1 = math.Max(oX1, x)
			oY0 = math.Min(oY0, y)
			oY1 = math.Max(oY1, y)
			if i == 0 {
				iX0 = math.Max(iX0, x)
			}
			if i == n-1 {
				iX1 = math.Min(iX1, x)
			}
			if j == 0 {
				iY0 = math.Max(iY0, y)
			}
			if j == n-1 {
				iY1 = math.Min(iY1, y)
			}
		}
	}
	inner = rectF{iX0, iY0, iX1 - iX0, iY1 - iY0}
	outer = rectF{oX0, oY0, oX1 - oX0, oY1 - oY0}
	return inner, outer
}

// stereoRectifyPinhole computes the rectification of a Brown-Conrady pair.
// The relative rotation is split evenly across both views, the baseline is
// rotated onto its dominant axis, and a shared focal length is taken from the
// axis orthogonal to it. Both principal points are averaged so identical
// scene points land on identical pixel centers (the zero-disparity
// convention; the depth formula in this package depends on it). alpha < 0
// keeps the default focal scaling; alpha in [0,1] blends between cropping to
// valid pixels only (0) and keeping every source pixel (1).
func stereoRectifyPinhole(
	left, right *calibration.Calibration,
	distLeft, distRight distortionModel,
	pose *RelativePose,
	alpha float64,
) *RectificationParams {
	nx := left.Width
	ny := left.Height
	k1 := left.Matrix()
	k2 := right.Matrix()

	// average the relative rotation across the two views
	om := MatrixToRodrigues(pose.R).Mul(-0.5)
	rr := RodriguesToMatrix(om)
	t := &mat.Dense{}
	t.Mul(rr, pose.T)

	// dominant baseline axis: 0 horizontal, 1 vertical
	idx := 0
	if math.Abs(t.At(1, 0)) > math.Abs(t.At(0, 0)) {
		idx = 1
	}
	c := t.At(idx, 0)
	nt := mat.Norm(t, 2)
	sign := -1.0
	if c > 0 {
		sign = 1.0
	}
	uu := r3.Vector{}
	if idx == 0 {
		uu.X = sign
	} else {
		uu.Y = sign
	}

	// global rotation bringing the baseline onto the chosen axis
	tv := r3.Vector{X: t.At(0, 0), Y: t.At(1, 0), Z: t.At(2, 0)}
	ww := tv.Cross(uu)
	if nw := ww.Norm(); nw > 0 {
		ww = ww.Mul(math.Acos(math.Abs(c)/nt) / nw)
	}
	wr := RodriguesToMatrix(ww)

	ri1 := &mat.Dense{}
	ri1.Mul(wr, rr.T())
	ri2 := &mat.Dense{}
	ri2.Mul(wr, rr)
	t.Mul(ri2, pose.T)

	// shared focal length from the axis orthogonal to the baseline: the
	// smaller of the two per-camera estimates after a barrel-distortion shrink
	o := idx ^ 1
	fcNew := math.Inf(1)
	for k := 0; k < 2; k++ {
		kk, coeffs := k1, left.DistCoeffs
		if k == 1 {
			kk, coeffs = k2, right.DistCoeffs
		}
		fc := kk.At(o, o)
		if len(coeffs) > 0 && coeffs[0] < 0 {
			fc *= 1 + coeffs[0]*float64(nx*nx+ny*ny)/(4*fc*fc)
		}
		fcNew = math.Min(fcNew, fc)
	}

	// per-camera principal points centering the undistorted image corners
	corners := [4][2]float64{
		{0, 0},
		{float64(nx - 1), 0},
		{0, float64(ny - 1)},
		{float64(nx - 1), float64(ny - 1)},
	}
	var ccNew [2]r2.Point
	for k := 0; k < 2; k++ {
		kk, dist, rk := k1, distLeft, ri1
		if k == 1 {
			kk, dist, rk = k2, distRight, ri2
		}
		var sumX, sumY float64
		for _, corner := range corners {
			x, y := undistortPoint(kk, dist, nil, corner[0], corner[1])
			px := rk.At(0, 0)*x + rk.At(0, 1)*y + rk.At(0, 2)
			py := rk.At(1, 0)*x + rk.At(1, 1)*y + rk.At(1, 2)
			pz := rk.At(2, 0)*x + rk.At(2, 1)*y + rk.At(2, 2)
			sumX += fcNew * px / pz
			sumY += fcNew * py / pz
		}
		ccNew[k] = r2.Point{
			X: float64(nx-1)/2 - sumX/4,
			Y: float64(ny-1)/2 - sumY/4,
		}
	}

	// zero disparity: both rectified images share the averaged principal point
	avg := ccNew[0].Add(ccNew[1]).Mul(0.5)
	ccNew[0], ccNew[1] = avg, avg

	p1 := mat.NewDense(3, 4, []float64{
		fcNew, 0, ccNew[0].X, 0,
		0, fcNew, ccNew[0].Y, 0,
		0, 0, 1, 0,
	})
	p2 := mat.NewDense(3, 4, []float64{
		fcNew, 0, ccNew[1].X, 0,
		0, fcNew, ccNew[1].Y, 0,
		0, 0, 1, 0,
	})
	p2.Set(idx, 3, t.At(idx, 0)*fcNew)

	// valid-pixel rectangles feed both the alpha blend and the ROIs
	inner1, outer1 := boundingRects(k1, distLeft, composeProjection(p1, ri1), nx, ny)
	inner2, outer2 := boundingRects(k2, distRight, composeProjection(p2, ri2), nx, ny)

	cx1, cy1 := ccNew[0].X, ccNew[0].Y
	cx2, cy2 := ccNew[1].X, ccNew[1].Y
	s := 1.0
	if alpha >= 0 {
		alpha = math.Min(alpha, 1)
		relScales := func(r rectF, cx, cy float64) [4]float64 {
			return [4]float64{
				cx / (cx - r.x),
				cy / (cy - r.y),
				(float64(nx) - 1 - cx) / (r.x + r.w - cx),
				(float64(ny) - 1 - cy) / (r.y + r.h - cy),
			}
		}
		s0 := math.Inf(-1)
		for _, v := range relScales(inner1, cx1, cy1) {
			s0 = math.Max(s0, v)
		}
		for _, v := range relScales(inner2, cx2, cy2) {
			s0 = math.Max(s0, v)
		}
		s1 := math.Inf(1)
		for _, v := range relScales(outer1, cx1, cy1) {
			s1 = math.Min(s1, v)
		}
		for _, v := range relScales(outer2, cx2, cy2) {
			s1 = math.Min(s1, v)
		}
		s = s0*(1-alpha) + s1*alpha
	}

	fcNew *= s
	p1.Set(0, 0, fcNew)
	p1.Set(1, 1, fcNew)
	p2.Set(0, 0, fcNew)
	p2.Set(1, 1, fcNew)
	p2.Set(idx, 3, p2.At(idx, 3)*s)

	roiRect := func(inner rectF, cx, cy float64) *image.Rectangle {
		x0 := int(math.Ceil((inner.x-cx)*s + cx))
		y0 := int(math.Ceil((inner.y-cy)*s + cy))
		w := int(math.Floor(inner.w * s))
		h := int(math.Floor(inner.h * s))
		r := image.Rect(x0, y0, x0+w, y0+h).Intersect(image.Rect(0, 0, nx, ny))
		return &r
	}

	tIdx := t.At(idx, 0)
	q := mat.NewDense(4, 4, []float64{
		1, 0, 0, -ccNew[0].X,
		0, 1, 0, -ccNew[0].Y,
		0, 0, 0, fcNew,
		0, 0, -1 / tIdx, 0,
	})
	if idx == 0 {
		q.Set(3, 3, (ccNew[0].X-ccNew[1].X)/tIdx)
	} else {
		q.Set(3, 3, (ccNew[0].Y-ccNew[1].Y)/tIdx)
	}

	return &RectificationParams{
		R1:        ri1,
		R2:        ri2,
		P1:        p1,
		P2:        p2,
		Q:         q,
		ValidROI1: roiRect(inner1, cx1, cy1),
		ValidROI2: roiRect(inner2, cx2, cy2),
	}
}

// estimateFisheyeNewCameraMatrix derives the camera matrix of the rectified
// view of a fisheye camera by undistorting the four edge midpoints through
// the rectifying rotation and fitting a focal length that keeps them inside
// the image. balance blends between the largest usable focal length (0) and
// the one keeping every midpoint visible (1).
func estimateFisheyeNewCameraMatrix(
	k *mat.Dense,
	model distortionModel,
	r *mat.Dense,
	width, height int,
	balance float64,
) *mat.Dense {
	balance = math.Min(math.Max(balance, 0), 1)
	w, h := width, height
	pts := [4][2]float64{
		{float64(w / 2), 0},
		{float64(w), float64(h / 2)},
		{float64(w / 2), float64(h)},
		{0, float64(h / 2)},
	}

	var xs, ys [4]float64
	var cnX, cnY float64
	for i, p := range pts {
		x, y := undistortPoint(k, model, r, p[0], p[1])
		xs[i], ys[i] = x, y
		cnX += x
		cnY += y
	}
	cnX /= 4
	cnY /= 4

	// work in identity aspect ratio, restore at the end
	aspect := k.At(0, 0) / k.At(1, 1)
	cnY *= aspect
	minx, maxx := math.Inf(1), math.Inf(-1)
	miny, maxy := math.Inf(1), math.Inf(-1)
	for i := range ys {
		ys[i] *= aspect
		minx = math.Min(minx, xs[i])
		maxx = math.Max(maxx, xs[i])
		miny = math.Min(miny, ys[i])
		maxy = math.Max(maxy, ys[i])
	}

	f1 := float64(w) * 0.5 / (cnX - minx)
	f2 := float64(w) * 0.5 / (maxx - cnX)
	f3 := float64(h) * 0.5 * aspect / (cnY - miny)
	f4 := float64(h) * 0.5 * aspect / (maxy - cnY)
	fmin := math.Min(math.Min(f1, f2), math.Min(f3, f4))
	fmax := math.Max(math.Max(f1, f2), math.Max(f3, f4))
	f := balance*fmin + (1-balance)*fmax

	cx := -cnX*f + float64(w)*0.5
	cy := (-cnY*f + float64(h)*aspect*0.5) / aspect
	return mat.NewDense(3, 3, []float64{
		f, 0, cx,
		0, f / aspect, cy,
		0, 0, 1,
	})
}

// stereoRectifyFisheye computes the rectification of a Kannala-Brandt pair.
// The construction parallels the pinhole path but the baseline is always
// taken horizontal, the shared focal length is the smaller of the two
// per-camera estimates, and no valid-pixel ROIs are produced.
func stereoRectifyFisheye(
	left, right *calibration.Calibration,
	distLeft, distRight distortionModel,
	pose *RelativePose,
) *RectificationParams {
	nx := left.Width
	ny := left.Height
	k1 := left.Matrix()
	k2 := right.Matrix()

	om := MatrixToRodrigues(pose.R).Mul(-0.5)
	rr := RodriguesToMatrix(om)
	t := &mat.Dense{}
	t.Mul(rr, pose.T)

	// the baseline rotates onto the half of the x axis it already points along
	tv := r3.Vector{X: t.At(0, 0), Y: t.At(1, 0), Z: t.At(2, 0)}
	sign := -1.0
	if tv.X > 0 {
		sign = 1.0
	}
	ww := tv.Cross(r3.Vector{X: sign, Y: 0, Z: 0})
	if nw := ww.Norm(); nw > 0 {
		ww = ww.Mul(math.Acos(math.Abs(tv.X)/tv.Norm()) / nw)
	}
	wr := RodriguesToMatrix(ww)

	ri1 := &mat.Dense{}
	ri1.Mul(wr, rr.T())
	ri2 := &mat.Dense{}
	ri2.Mul(wr, rr)
	tnew := &mat.Dense{}
	tnew.Mul(ri2, pose.T)

	const balance = 0.0
	newK1 := estimateFisheyeNewCameraMatrix(k1, distLeft, ri1, nx, ny, balance)
	newK2 := estimateFisheyeNewCameraMatrix(k2, distRight, ri2, nx, ny, balance)

	fcNew := math.Min(newK1.At(1, 1), newK2.At(1, 1))
	ccNew := [2]r2.Point{
		{X: newK1.At(0, 2), Y: newK1.At(1, 2)},
		{X: newK2.At(0, 2), Y: newK2.At(1, 2)},
	}
	avg := ccNew[0].Add(ccNew[1]).Mul(0.5)
	ccNew[0], ccNew[1] = avg, avg

	p1 := mat.NewDense(3, 4, []float64{
		fcNew, 0, ccNew[0].X, 0,
		0, fcNew, ccNew[0].Y, 0,
		0, 0, 1, 0,
	})
	p2 := mat.NewDense(3, 4, []float64{
		fcNew, 0, ccNew[1].X, tnew.At(0, 0) * fcNew,
		0, fcNew, ccNew[1].Y, 0,
		0, 0, 1, 0,
	})

	q := mat.NewDense(4, 4, []float64{
		1, 0, 0, -ccNew[0].X,
		0, 1, 0, -ccNew[0].Y,
		0, 0, 0, fcNew,
		0, 0, -1 / tnew.At(0, 0), (ccNew[0].X - ccNew[1].X) / tnew.At(0, 0),
	})

	return &RectificationParams{R1: ri1, R2: ri2, P1: p1, P2: p2, Q: q}
}
