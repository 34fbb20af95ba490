package sanity

import (
	"sync/atomic"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/nn"
)

// Checker runs all plausibility checks over the detections of a frame
type Checker struct {
	Context *ContextValidator // May be nil
	Motion  *MotionCoherence  // May be nil. Only applied to detections with a TrackID.

	nRejectedContext atomic.Int64
	nRejectedMotion  atomic.Int64
}

type Statistics struct {
	RejectedContext int64 `json:"rejected_context"`
	RejectedMotion  int64 `json:"rejected_motion"`
}

// Create a Checker with both checks enabled
func NewChecker(log logs.Log) *Checker {
	return &Checker{
		Context: NewContextValidator(log),
		Motion:  NewMotionCoherence(log),
	}
}

// Filter runs both the context and the motion checks, and returns the plausible detections,
// and the number that were rejected
func (c *Checker) Filter(detections []nn.Detection, frameWidth, frameHeight int) ([]nn.Detection, int) {
	kept, nContext := c.FilterContext(detections, frameWidth, frameHeight)
	kept, nMotion := c.FilterMotion(kept)
	return kept, nContext + nMotion
}

// FilterContext rejects detections with an implausible shape or position.
// This runs before tracking, so that implausible detections don't create tracks.
func (c *Checker) FilterContext(detections []nn.Detection, frameWidth, frameHeight int) ([]nn.Detection, int) {
	if c.Context == nil {
		return detections, 0
	}
	kept := make([]nn.Detection, 0, len(detections))
	for i := range detections {
		if ok, _ := c.Context.Validate(&detections[i], frameWidth, frameHeight); !ok {
			c.nRejectedContext.Add(1)
			continue
		}
		kept = append(kept, detections[i])
	}
	return kept, len(detections) - len(kept)
}

// FilterMotion rejects tracked detections whose motion is incoherent.
// Detections without a TrackID are kept.
func (c *Checker) FilterMotion(detections []nn.Detection) ([]nn.Detection, int) {
	if c.Motion == nil {
		return detections, 0
	}
	kept := make([]nn.Detection, 0, len(detections))
	for i := range detections {
		d := &detections[i]
		if d.TrackID != 0 && !c.Motion.Update(d.TrackID, d.Center) {
			c.nRejectedMotion.Add(1)
			continue
		}
		kept = append(kept, *d)
	}
	return kept, len(detections) - len(kept)
}

func (c *Checker) Statistics() Statistics {
	return Statistics{
		RejectedContext: c.nRejectedContext.Load(),
		RejectedMotion:  c.nRejectedMotion.Load(),
	}
}
