package stereo

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/nznobody/machine-vision-acquisition/calibration"
)

// RodriguesToMatrix converts an axis-angle rotation vector to a 3x3 rotation
// matrix. The vector's direction is the rotation axis and its norm the
// rotation angle in radians.
func RodriguesToMatrix(rvec r3.Vector) *mat.Dense {
	theta := rvec.Norm()
	if theta < 1e-12 {
		return eye(3)
	}
	u := rvec.Mul(1 / theta)
	c := math.Cos(theta)
	s := math.Sin(theta)
	c1 := 1 - c
	return mat.NewDense(3, 3, []float64{
		c + u.X*u.X*c1, u.X*u.Y*c1 - u.Z*s, u.X*u.Z*c1 + u.Y*s,
		u.Y*u.X*c1 + u.Z*s, c + u.Y*u.Y*c1, u.Y*u.Z*c1 - u.X*s,
		u.Z*u.X*c1 - u.Y*s, u.Z*u.Y*c1 + u.X*s, c + u.Z*u.Z*c1,
	})
}

// MatrixToRodrigues converts a 3x3 rotation matrix back to its axis-angle
// form, covering the degenerate angles near 0 and pi.
func MatrixToRodrigues(r mat.Matrix) r3.Vector {
	rx := r.At(2, 1) - r.At(1, 2)
	ry := r.At(0, 2) - r.At(2, 0)
	rz := r.At(1, 0) - r.At(0, 1)

	s := 0.5 * math.Sqrt(rx*rx+ry*ry+rz*rz)
	c := 0.5 * (r.At(0, 0) + r.At(1, 1) + r.At(2, 2) - 1)
	c = math.Max(-1, math.Min(1, c))
	theta := math.Acos(c)

	if s < 1e-5 {
		if c > 0 {
			return r3.Vector{}
		}
		// angle near pi, recover the axis from the diagonal
		rx = math.Sqrt(math.Max((r.At(0, 0)+1)*0.5, 0))
		ry = math.Sqrt(math.Max((r.At(1, 1)+1)*0.5, 0))
		rz = math.Sqrt(math.Max((r.At(2, 2)+1)*0.5, 0))
		if r.At(0, 1) < 0 {
			ry = -ry
		}
		if r.At(0, 2) < 0 {
			rz = -rz
		}
		if math.Abs(rx) < math.Abs(ry) && math.Abs(rx) < math.Abs(rz) && (r.At(1, 2) > 0) != (ry*rz > 0) {
			rz = -rz
		}
		theta /= math.Sqrt(rx*rx + ry*ry + rz*rz)
		return r3.Vector{X: rx * theta, Y: ry * theta, Z: rz * theta}
	}
	vth := theta / (2 * s)
	return r3.Vector{X: rx * vth, Y: ry * vth, Z: rz * vth}
}

// RelativePose is the pose of the right camera of a stereo pair expressed in
// the left camera's frame: R the 3x3 relative rotation, T the 3x1 relative
// translation in mm.
type RelativePose struct {
	R *mat.Dense
	T *mat.Dense
}

// RelativePoseBetween derives the relative pose of a stereo pair from the two
// cameras' world-to-camera extrinsics: R = R_left^-1 * R_right and
// T = R_left^T * t_right - R_left^T * t_left. The rotation inverse is taken
// as the transpose since Rodrigues output is orthonormal.
func RelativePoseBetween(left, right *calibration.Calibration) *RelativePose {
	rl := RodriguesToMatrix(left.RotationVector())
	rr := RodriguesToMatrix(right.RotationVector())
	rlt := transposeDense(rl)

	r := &mat.Dense{}
	r.Mul(rlt, rr)

	tl := left.TranslationVector()
	tr := right.TranslationVector()
	tlMat := mat.NewDense(3, 1, []float64{tl.X, tl.Y, tl.Z})
	trMat := mat.NewDense(3, 1, []float64{tr.X, tr.Y, tr.Z})

	t := &mat.Dense{}
	t.Mul(rlt, trMat)
	t2 := &mat.Dense{}
	t2.Mul(rlt, tlMat)
	t.Sub(t, t2)

	return &RelativePose{R: r, T: t}
}

// BaselineMM returns the distance between the two camera centers in mm, the
// norm of the relative translation.
func (rp *RelativePose) BaselineMM() float64 {
	return mat.Norm(rp.T, 2)
}

// transposeDense returns the transpose of a dense matrix as a new dense matrix.
func transposeDense(m *mat.Dense) *mat.Dense {
	nRows, nCols := m.Dims()
	m2 := mat.NewDense(nCols, nRows, nil)
	m2.Copy(m.T())
	return m2
}

// eye create an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
