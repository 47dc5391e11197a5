// Package stereo computes dense 3-D geometry from a calibrated stereo camera
// pair. It derives the pair's relative pose and rectification, remaps raw
// images into row-aligned rectified views, post-processes disparity maps and
// back-projects them into metric 3-D points in the left camera's frame.
package stereo

import (
	"image"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nznobody/machine-vision-acquisition/calibration"
)

// defaultAlpha asks the rectification engine for its native focal scaling
// rather than an inner/outer rectangle blend.
const defaultAlpha = -1

// Matcher computes dense disparity from a rectified image pair. Concrete
// matchers (block matching, semi-global matching, learned models) plug in
// through SetMatcher; this package ships none.
type Matcher interface {
	ComputeDisparity(left, right image.Image) (*DisparityMap, error)
}

// StereoProcessor binds a calibrated stereo pair to its derived geometry.
// Construction computes everything eagerly: relative pose, rectification
// parameters, remap tables. After that the processor never mutates itself
// and may be shared across goroutines, provided any Matcher is installed
// before sharing.
type StereoProcessor struct {
	left, right *calibration.Calibration
	model       calibration.CameraModel
	imageSize   image.Point
	pose        *RelativePose
	params      *RectificationParams
	mapLeft     *RemapTable
	mapRight    *RemapTable
	matcher     Matcher
	logger      golog.Logger
}

// NewStereoProcessor validates the pair and derives all rectification state.
// Either every derived field is computed or an error comes back and no
// partially built processor escapes.
func NewStereoProcessor(left, right *calibration.Calibration, logger golog.Logger) (*StereoProcessor, error) {
	if err := left.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "left calibration")
	}
	if err := right.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "right calibration")
	}
	if left.Width != right.Width || left.Height != right.Height || left.Model != right.Model {
		return nil, NewConfigMismatchError(left, right)
	}

	distLeft, err := newDistortionModel(left.Model, left.DistCoeffs)
	if err != nil {
		return nil, errors.Wrap(err, "left calibration")
	}
	distRight, err := newDistortionModel(right.Model, right.DistCoeffs)
	if err != nil {
		return nil, errors.Wrap(err, "right calibration")
	}

	pose := RelativePoseBetween(left, right)
	var params *RectificationParams
	switch left.Model {
	case calibration.ModelPinhole:
		params = stereoRectifyPinhole(left, right, distLeft, distRight, pose, defaultAlpha)
	case calibration.ModelFisheye:
		params = stereoRectifyFisheye(left, right, distLeft, distRight, pose)
	default:
		return nil, NewUnsupportedModelError(left.Model)
	}

	mapLeft, err := NewRemapTable(left, params.R1, params.P1)
	if err != nil {
		return nil, errors.Wrap(err, "left remap table")
	}
	mapRight, err := NewRemapTable(right, params.R2, params.P2)
	if err != nil {
		return nil, errors.Wrap(err, "right remap table")
	}

	sp := &StereoProcessor{
		left:      left,
		right:     right,
		model:     left.Model,
		imageSize: image.Point{X: left.Width, Y: left.Height},
		pose:      pose,
		params:    params,
		mapLeft:   mapLeft,
		mapRight:  mapRight,
		logger:    logger,
	}
	logger.Debugf(
		"stereo processor ready: %q pair %dx%d, baseline %.2fmm",
		sp.model, sp.imageSize.X, sp.imageSize.Y, pose.BaselineMM(),
	)
	return sp, nil
}

// SetMatcher installs the disparity matcher used by CalculateDisparity.
// Call during setup, before the processor is shared.
func (sp *StereoProcessor) SetMatcher(m Matcher) {
	sp.matcher = m
}

// Model returns the camera model shared by both calibrations.
func (sp *StereoProcessor) Model() calibration.CameraModel {
	return sp.model
}

// ImageSize returns the declared image size of the pair.
func (sp *StereoProcessor) ImageSize() image.Point {
	return sp.imageSize
}

// Pose returns the right camera's pose relative to the left.
func (sp *StereoProcessor) Pose() *RelativePose {
	return sp.pose
}

// Params returns the solved rectification parameters.
func (sp *StereoProcessor) Params() *RectificationParams {
	return sp.params
}

// BaselineMM is the physical distance between the two optical centers.
func (sp *StereoProcessor) BaselineMM() float64 {
	return sp.pose.BaselineMM()
}

func (sp *StereoProcessor) checkImageSize(img image.Image, side string) error {
	b := img.Bounds()
	if b.Dx() != sp.imageSize.X || b.Dy() != sp.imageSize.Y {
		return errors.Errorf(
			"%s image and calibration dimensions don't match Image(%d,%d) != Calibration(%d,%d)",
			side, b.Dx(), b.Dy(), sp.imageSize.X, sp.imageSize.Y,
		)
	}
	return nil
}

// Remap warps a raw pair into the rectified frame, one bilinear lookup pass
// per image. Both images must match the calibration's declared size.
func (sp *StereoProcessor) Remap(left, right image.Image) (*image.RGBA, *image.RGBA, error) {
	if err := sp.checkImageSize(left, "left"); err != nil {
		return nil, nil, err
	}
	if err := sp.checkImageSize(right, "right"); err != nil {
		return nil, nil, err
	}
	return sp.mapLeft.Apply(left), sp.mapRight.Apply(right), nil
}

// CalculateDisparity runs the installed matcher on a rectified pair.
func (sp *StereoProcessor) CalculateDisparity(leftRect, rightRect image.Image) (*DisparityMap, error) {
	if sp.matcher == nil {
		return nil, ErrNoMatcher
	}
	return sp.matcher.ComputeDisparity(leftRect, rightRect)
}

// ApplyROIToDisparity zeroes every pixel outside the left camera's
// valid-pixel rectangle, leaving pixels inside untouched. Fisheye rigs
// produce no such rectangle and always fail here.
func (sp *StereoProcessor) ApplyROIToDisparity(dm *DisparityMap) (*DisparityMap, error) {
	roi := sp.params.ValidROI1
	if roi == nil || roi.Empty() {
		return nil, NewInvalidROIError("roi is missing or empty")
	}
	out := NewDisparityMap(dm.width, dm.height)
	clipped := roi.Intersect(image.Rect(0, 0, dm.width, dm.height))
	for y := clipped.Min.Y; y < clipped.Max.Y; y++ {
		for x := clipped.Min.X; x < clipped.Max.X; x++ {
			out.data[out.kxy(x, y)] = dm.data[dm.kxy(x, y)]
		}
	}
	return out, nil
}

// DisparityToDepthMM projects a left-image disparity in pixels to depth in
// millimeters. doffs stays zero only because rectification aligned both
// principal points (the zero-disparity convention); rectifying without that
// alignment would need the principal point difference here instead.
func (sp *StereoProcessor) DisparityToDepthMM(disparity float64) float64 {
	const doffs = 0
	return sp.pose.BaselineMM() * sp.left.FocalLengthPx() / (disparity + doffs)
}

// ProjectPixelToCameraSpace converts one rectified-undistorted (u, v) pixel
// with disparity d into a millimeter point in the left camera frame
// (x right, y down, z forward).
func (sp *StereoProcessor) ProjectPixelToCameraSpace(u, v, d float64) r3.Vector {
	z := sp.DisparityToDepthMM(d)
	return r3.Vector{
		X: (u - sp.left.Ppx()) / sp.left.Fx() * z,
		Y: (v - sp.left.Ppy()) / sp.left.Fy() * z,
		Z: z,
	}
}

// ProjectPointsToCameraSpace converts rows of (u, v, disparity) into
// millimeter points in the left camera frame, preserving order. The input
// must be Nx3 and already rectified and undistorted; the output is a fresh
// Nx3 matrix.
func (sp *StereoProcessor) ProjectPointsToCameraSpace(points *mat.Dense) (*mat.Dense, error) {
	rows, cols := points.Dims()
	if cols != 3 {
		return nil, NewInvalidPointShapeError(rows, cols)
	}
	out := mat.NewDense(rows, 3, nil)
	for i := 0; i < rows; i++ {
		p := sp.ProjectPixelToCameraSpace(points.At(i, 0), points.At(i, 1), points.At(i, 2))
		out.Set(i, 0, p.X)
		out.Set(i, 1, p.Y)
		out.Set(i, 2, p.Z)
	}
	return out, nil
}
