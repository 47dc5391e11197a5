package pointcloud

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// FromProjection builds a cloud from an Nx3 matrix of (x, y, z) positions in
// mm, the shape the stereo projector emits. The points carry no payload and
// duplicate positions collapse to one.
func FromProjection(points *mat.Dense) (PointCloud, error) {
	rows, cols := points.Dims()
	if cols != 3 {
		return nil, errors.Errorf("expected an Nx3 matrix of points, got %dx%d", rows, cols)
	}
	pc := NewWithPrealloc(rows)
	for i := 0; i < rows; i++ {
		v := NewVector(points.At(i, 0), points.At(i, 1), points.At(i, 2))
		if err := pc.Set(v, NewBasicData()); err != nil {
			return nil, err
		}
	}
	return pc, nil
}
