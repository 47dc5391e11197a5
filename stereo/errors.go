package stereo

import (
	"github.com/pkg/errors"

	"github.com/nznobody/machine-vision-acquisition/calibration"
)

// ErrConfigMismatch is when the two calibrations of a stereo pair disagree on
// image size or camera model.
var ErrConfigMismatch = errors.New("camera calibration image sizes or models don't match")

// NewConfigMismatchError is used when a stereo pair cannot be built from two
// calibration records.
func NewConfigMismatchError(left, right *calibration.Calibration) error {
	return errors.Wrapf(ErrConfigMismatch,
		"left (%dx%d %q) vs right (%dx%d %q)",
		left.Width, left.Height, left.Model,
		right.Width, right.Height, right.Model,
	)
}

// ErrUnsupportedModel is when a calibration names a camera model the stereo
// pipeline has no rectification path for.
var ErrUnsupportedModel = errors.New("camera model not supported")

// NewUnsupportedModelError is used when model dispatch fails.
func NewUnsupportedModelError(model calibration.CameraModel) error {
	return errors.Wrapf(ErrUnsupportedModel, "camera model %q", string(model))
}

// ErrInvalidROI is when a valid rectification ROI is needed but absent or
// degenerate, e.g. ROI masking on a fisheye rig.
var ErrInvalidROI = errors.New("invalid rectification ROI")

// NewInvalidROIError is used when ROI masking cannot run.
func NewInvalidROIError(msg string) error {
	return errors.Wrapf(ErrInvalidROI, msg)
}

// ErrInvalidPointShape is when a point matrix does not have three columns.
var ErrInvalidPointShape = errors.New("points input array must be Nx3")

// NewInvalidPointShapeError is used when projection input has the wrong shape.
func NewInvalidPointShapeError(rows, cols int) error {
	return errors.Wrapf(ErrInvalidPointShape, "got %dx%d", rows, cols)
}

// ErrNoMatcher is when disparity estimation is requested but no Matcher has
// been installed on the processor.
var ErrNoMatcher = errors.New("no disparity matcher installed")
