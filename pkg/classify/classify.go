package classify

import (
	"math"

	"github.com/cyclopcam/trafficcount/pkg/nn"
)

// Package classify adds detail to the detector's classes: the size of vehicles, a rough
// estimate of their length, and whether people are walking alone or in groups.

// The size thresholds are tuned for video that is this many pixels wide
const ReferenceWidth = 640

type SizeCategory string

const (
	SizeSmall      SizeCategory = "small"
	SizeMedium     SizeCategory = "medium"
	SizeLarge      SizeCategory = "large"
	SizeExtraLarge SizeCategory = "extra_large"
)

// Typical length of each vehicle class, in meters
var baseLengths = map[string]float64{
	"car":   4.5,
	"truck": 8.0,
	"bus":   12.0,
}

const defaultBaseLength = 5.0

// Vehicle is the detailed classification of a car, truck or bus
type Vehicle struct {
	Class           string       `json:"class"` // Possibly different from the detector's class
	Size            SizeCategory `json:"size"`
	EstimatedLength float64      `json:"estimated_length"` // Meters
	Confidence      float32      `json:"confidence"`
}

func IsVehicle(class string) bool {
	return class == "car" || class == "truck" || class == "bus"
}

// SizeOf returns the size category of a box area, measured at ReferenceWidth
func SizeOf(area float64) SizeCategory {
	switch {
	case area < 1500:
		return SizeSmall
	case area < 4000:
		return SizeMedium
	case area < 8000:
		return SizeLarge
	default:
		return SizeExtraLarge
	}
}

// RefineClass corrects the vehicle class when the box is implausible for it.
// aspect is width / height.
func RefineClass(class string, area, aspect float64) string {
	switch {
	case class == "car" && area > 5000:
		return "truck"
	case class == "truck" && aspect > 3.5:
		return "bus"
	case class == "bus" && area < 3000:
		return "truck"
	}
	return class
}

// EstimateLength guesses the real length of a vehicle in meters, rounded to 10cm.
// The estimate scales the typical length of the class by the box area (a proxy for perspective)
// and the aspect ratio.
func EstimateLength(class string, area, aspect float64) float64 {
	base, ok := baseLengths[class]
	if !ok {
		base = defaultBaseLength
	}
	areaFactor := min(area/3000, 2.0)
	ratioFactor := min(aspect/2.0, 1.5)
	return math.Round(base*areaFactor*ratioFactor*10) / 10
}

// Classifier produces detailed classifications for the detections of one video
type Classifier struct {
	Groups GroupAnalyzer

	areaScale float64 // Converts pixel areas of this video to ReferenceWidth
}

// NewClassifier creates a classifier for video that is frameWidth pixels wide.
// If frameWidth is not positive, areas are used as is.
func NewClassifier(frameWidth int) *Classifier {
	c := &Classifier{
		Groups:    NewGroupAnalyzer(),
		areaScale: 1,
	}
	if frameWidth > 0 {
		s := float64(ReferenceWidth) / float64(frameWidth)
		c.areaScale = s * s
	}
	return c
}

func (c *Classifier) Vehicle(d *nn.Detection) Vehicle {
	area := float64(d.Area()) * c.areaScale
	aspect := 1.0
	if d.Height() > 0 {
		aspect = float64(d.Width()) / float64(d.Height())
	}
	return Vehicle{
		Class:           RefineClass(d.Class, area, aspect),
		Size:            SizeOf(area),
		EstimatedLength: EstimateLength(d.Class, area, aspect),
		Confidence:      d.Confidence,
	}
}

// AddFrame classifies the detections of a single frame, and adds them to the summary
func (c *Classifier) AddFrame(s *Summary, detections []nn.Detection) {
	var people []Person
	for i := range detections {
		d := &detections[i]
		if IsVehicle(d.Class) {
			s.addVehicle(c.Vehicle(d))
		} else if d.Class == "person" && people == nil {
			people = c.Groups.Analyze(detections)
		}
	}
	for _, p := range people {
		s.addPerson(p)
	}
}
