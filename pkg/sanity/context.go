package sanity

import (
	"fmt"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/nn"
)

// Range is an inclusive [Min, Max] interval
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// ContextValidator rejects detections whose shape or position in the frame is implausible for their class.
// Swaying branches are often detected as tall thin "cars" high up in the frame.
type ContextValidator struct {
	log logs.Log

	// Vehicles whose center is above this fraction of the frame height are rejected
	VehicleHorizon float64
	// Allowed width/height for vehicles
	VehicleAspect Range
	// Allowed height/width for persons
	PersonAspect Range
}

func NewContextValidator(log logs.Log) *ContextValidator {
	return &ContextValidator{
		log:            log,
		VehicleHorizon: 0.4,
		VehicleAspect:  Range{Min: 0.8, Max: 4.0},
		PersonAspect:   Range{Min: 1.2, Max: 4.0},
	}
}

// Validate returns true if the detection is plausible. If not, the reason is returned.
func (v *ContextValidator) Validate(d *nn.Detection, frameWidth, frameHeight int) (bool, string) {
	if nn.VehicleClasses[d.Class] {
		return v.validateVehicle(d, frameHeight)
	} else if d.Class == "person" {
		return v.validatePerson(d)
	}
	return true, ""
}

func (v *ContextValidator) validateVehicle(d *nn.Detection, frameHeight int) (bool, string) {
	if float64(d.Center.Y) < float64(frameHeight)*v.VehicleHorizon {
		v.log.Debugf("Vehicle at frame %v is too high up (y = %v)", d.FrameNumber, d.Center.Y)
		return false, "vehicle above horizon"
	}
	aspect := 0.0
	if d.Height() > 0 {
		aspect = float64(d.Width()) / float64(d.Height())
	}
	if !v.VehicleAspect.Contains(aspect) {
		v.log.Debugf("Vehicle at frame %v has implausible aspect ratio %.2f", d.FrameNumber, aspect)
		return false, fmt.Sprintf("vehicle aspect ratio %.2f", aspect)
	}
	return true, ""
}

func (v *ContextValidator) validatePerson(d *nn.Detection) (bool, string) {
	aspect := 0.0
	if d.Width() > 0 {
		aspect = float64(d.Height()) / float64(d.Width())
	}
	if !v.PersonAspect.Contains(aspect) {
		v.log.Debugf("Person at frame %v has implausible aspect ratio %.2f", d.FrameNumber, aspect)
		return false, fmt.Sprintf("person aspect ratio %.2f", aspect)
	}
	return true, ""
}
