package stereo

import (
	"image"
	"image/color"

	"github.com/pkg/errors"

	"github.com/nznobody/machine-vision-acquisition/pointcloud"
)

// DisparityToPointCloud back-projects a dense disparity map into a point
// cloud in the left camera frame, in millimeters. rectified supplies the
// per-point color and must be the left rectified image; pass nil for a
// colorless cloud. Pixels whose disparity is invalid or not positive carry
// no range information and are skipped.
func (sp *StereoProcessor) DisparityToPointCloud(dm *DisparityMap, rectified image.Image) (pointcloud.PointCloud, error) {
	if dm.width != sp.imageSize.X || dm.height != sp.imageSize.Y {
		return nil, errors.Errorf(
			"disparity and calibration dimensions don't match Disparity(%d,%d) != Calibration(%d,%d)",
			dm.width, dm.height, sp.imageSize.X, sp.imageSize.Y,
		)
	}
	var origin image.Point
	if rectified != nil {
		if err := sp.checkImageSize(rectified, "rectified"); err != nil {
			return nil, err
		}
		origin = rectified.Bounds().Min
	}

	pc := pointcloud.New()
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			d := dm.data[dm.kxy(x, y)]
			if invalidDisparity(d) || d <= 0 {
				continue
			}
			p := sp.ProjectPixelToCameraSpace(float64(x), float64(y), float64(d))

			var data pointcloud.Data
			if rectified != nil {
				r, g, b, _ := rectified.At(origin.X+x, origin.Y+y).RGBA()
				data = pointcloud.NewColoredData(color.NRGBA{
					R: uint8(r >> 8),
					G: uint8(g >> 8),
					B: uint8(b >> 8),
					A: 255,
				})
			} else {
				data = pointcloud.NewBasicData()
			}
			if err := pc.Set(p, data); err != nil {
				return nil, err
			}
		}
	}
	return pc, nil
}
