// Package calibration holds per-camera calibration records produced by an
// OpenCV-style calibration pipeline, plus loaders for the JSON files those
// pipelines emit. A record carries the solved intrinsics (camera matrix and
// distortion coefficients), the solved extrinsics (axis-angle rotation and
// translation of the world frame into the camera frame) and the image size
// the solution is valid for.
package calibration

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// ErrNoCalibration is when a camera does not have usable calibration parameters.
var ErrNoCalibration = errors.New("camera calibration parameters are not available")

// NewNoCalibrationError is used when a calibration record is missing or malformed.
func NewNoCalibrationError(msg string) error {
	return errors.Wrapf(ErrNoCalibration, msg)
}

// CameraModel tags which projection model a camera was calibrated against.
type CameraModel string

// The camera models produced by the calibration pipeline. The tags match the
// model names in the calibration files.
const (
	ModelPinhole CameraModel = "opencv"
	ModelFisheye CameraModel = "opencv_fisheye"
)

// Calibration is the full solved calibration of a single camera.
// CameraMatrix is the row-major 3x3 intrinsic matrix
// [[fx 0 ppx], [0 fy ppy], [0 0 1]]. DistCoeffs is model dependent: the
// pinhole model takes 4, 5 or 8 coefficients (k1, k2, p1, p2, k3, k4, k5, k6),
// the fisheye model exactly 4 (k1..k4). RVec and TVec are the world-to-camera
// extrinsics, rotation in axis-angle form and translation in mm.
type Calibration struct {
	Model        CameraModel `json:"camera_model"`
	Width        int         `json:"image_width"`
	Height       int         `json:"image_height"`
	CameraMatrix []float64   `json:"camera_matrix"`
	DistCoeffs   []float64   `json:"dist_coeffs"`
	RVec         [3]float64  `json:"rvec"`
	TVec         [3]float64  `json:"tvec"`
}

// Fx is the x focal length in pixels.
func (c *Calibration) Fx() float64 { return c.CameraMatrix[0] }

// Fy is the y focal length in pixels.
func (c *Calibration) Fy() float64 { return c.CameraMatrix[4] }

// Ppx is the x coordinate of the principal point.
func (c *Calibration) Ppx() float64 { return c.CameraMatrix[2] }

// Ppy is the y coordinate of the principal point.
func (c *Calibration) Ppy() float64 { return c.CameraMatrix[5] }

// FocalLengthPx returns the focal length in pixel units used for depth
// calculations, taken from the x axis of the camera matrix.
func (c *Calibration) FocalLengthPx() float64 { return c.Fx() }

// RotationVector returns the solved world-to-camera rotation in axis-angle form.
func (c *Calibration) RotationVector() r3.Vector {
	return r3.Vector{X: c.RVec[0], Y: c.RVec[1], Z: c.RVec[2]}
}

// TranslationVector returns the solved world-to-camera translation in mm.
func (c *Calibration) TranslationVector() r3.Vector {
	return r3.Vector{X: c.TVec[0], Y: c.TVec[1], Z: c.TVec[2]}
}

// Matrix returns a copy of the 3x3 camera matrix.
func (c *Calibration) Matrix() *mat.Dense {
	if c == nil {
		return nil
	}
	data := make([]float64, len(c.CameraMatrix))
	copy(data, c.CameraMatrix)
	return mat.NewDense(3, 3, data)
}

// CheckValid checks if the fields for Calibration have valid inputs.
func (c *Calibration) CheckValid() error {
	if c == nil {
		return NewNoCalibrationError("calibration does not exist")
	}
	if len(c.CameraMatrix) != 9 {
		return NewNoCalibrationError(fmt.Sprintf("camera matrix must have 9 entries, has %d", len(c.CameraMatrix)))
	}
	if c.Width == 0 || c.Height == 0 {
		return NewNoCalibrationError(fmt.Sprintf("invalid image size (%#v, %#v)", c.Width, c.Height))
	}
	if c.Fx() <= 0 {
		return NewNoCalibrationError(fmt.Sprintf("invalid focal length Fx = %#v", c.Fx()))
	}
	if c.Fy() <= 0 {
		return NewNoCalibrationError(fmt.Sprintf("invalid focal length Fy = %#v", c.Fy()))
	}
	if c.Ppx() < 0 {
		return NewNoCalibrationError(fmt.Sprintf("invalid principal X point Ppx = %#v", c.Ppx()))
	}
	if c.Ppy() < 0 {
		return NewNoCalibrationError(fmt.Sprintf("invalid principal Y point Ppy = %#v", c.Ppy()))
	}
	return nil
}

// NewCalibrationsFromJSONFile takes in a file path to a JSON of calibration
// records, one per camera, and turns it into a slice of Calibrations.
func NewCalibrationsFromJSONFile(jsonPath string) ([]Calibration, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	return NewCalibrationsFromBytes(byteValue)
}

// NewCalibrationsFromBytes parses calibration records out of raw JSON.
func NewCalibrationsFromBytes(byteValue []byte) ([]Calibration, error) {
	var calibs []Calibration
	if err := json.Unmarshal(byteValue, &calibs); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	return calibs, nil
}
