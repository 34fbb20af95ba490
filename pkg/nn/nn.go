package nn

import (
	"errors"
	"fmt"
)

// Package nn holds the detection records that the external object detector produces,
// and the geometry that we need to reason about them.

const DefaultProbabilityThreshold = 0.5

var ErrInvalidConfidence = errors.New("Confidence must be between 0 and 1")
var ErrInvalidBox = errors.New("Bounding box must have x2 >= x1 and y2 >= y1")

// Detection is a single object found by the detector, in a single frame.
type Detection struct {
	Class       string  `json:"class"`
	ClassID     int     `json:"class_id"`
	Confidence  float32 `json:"confidence"`
	BBox        [4]int  `json:"bbox"` // x1,y1,x2,y2
	Center      Point   `json:"center"`
	FrameNumber int     `json:"frame_number"`
	Timestamp   float64 `json:"timestamp"` // Seconds from start of video
	ROIFiltered bool    `json:"roi_filtered,omitempty"`
	TrackID     int64   `json:"track_id,omitempty"`
}

// Create a detection from corners (x1,y1) top-left and (x2,y2) bottom-right
func FromXYXY(classID int, confidence float32, x1, y1, x2, y2 int) Detection {
	d := Detection{
		Class:      ClassName(classID),
		ClassID:    classID,
		Confidence: confidence,
		BBox:       [4]int{x1, y1, x2, y2},
	}
	d.Center = d.Box().Center()
	return d
}

// Create a detection from a raw label
func FromObject(o ObjectDetection, className string, frame int, timestamp float64) Detection {
	d := FromXYXY(o.Class, o.Confidence, o.Box.X, o.Box.Y, o.Box.X2(), o.Box.Y2())
	d.Class = className
	d.FrameNumber = frame
	d.Timestamp = timestamp
	return d
}

func (d *Detection) Box() Rect {
	return RectFromXYXY(d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3])
}

func (d *Detection) Width() int {
	return d.BBox[2] - d.BBox[0]
}

func (d *Detection) Height() int {
	return d.BBox[3] - d.BBox[1]
}

func (d *Detection) Area() int {
	return d.Width() * d.Height()
}

func (d *Detection) BaseCenter() Point {
	return d.Box().BaseCenter()
}

func (d *Detection) Validate() error {
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w (%v)", ErrInvalidConfidence, d.Confidence)
	}
	if d.BBox[2] < d.BBox[0] || d.BBox[3] < d.BBox[1] {
		return fmt.Errorf("%w (%v)", ErrInvalidBox, d.BBox)
	}
	return nil
}

// FrameDetections are the surviving detections of a single processed frame
type FrameDetections struct {
	FrameNumber    int         `json:"frame_number"`
	Timestamp      float64     `json:"timestamp"`
	Detections     []Detection `json:"detections"`
	DetectionCount int         `json:"detection_count"`
}
