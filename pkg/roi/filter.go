package roi

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/nn"
)

// Anchor chooses which point of a bounding box is tested against the zones
type Anchor string

const (
	AnchorCenter Anchor = "center" // Center of the box
	AnchorBase   Anchor = "base"   // Bottom center of the box, where a vehicle touches the road
)

const DefaultFrameWidth = 640
const DefaultFrameHeight = 480

var ErrZoneNotFound = errors.New("Zone not found")
var ErrDuplicateZone = errors.New("A zone with that name and type already exists")
var ErrInvalidAnchor = errors.New("Anchor must be 'center' or 'base'")

// Reasons why a detection was dropped
const (
	ReasonExcluded         = "inside exclusion zone"
	ReasonOutsideInclusion = "outside inclusion zones"
)

// Decision is the outcome of testing a single detection against the zones
type Decision struct {
	Keep   bool
	Reason string // Empty if Keep is true
	Zone   string // The exclusion zone responsible for dropping, if any
}

// Filter drops detections that fall outside the region of interest.
// A Filter is safe to use from multiple goroutines.
type Filter struct {
	log logs.Log

	lock        sync.RWMutex
	frameWidth  int
	frameHeight int
	anchor      Anchor
	videoPath   string
	inclusion   []Zone
	exclusion   []Zone
}

func NewFilter(log logs.Log) *Filter {
	return &Filter{
		log:         log,
		frameWidth:  DefaultFrameWidth,
		frameHeight: DefaultFrameHeight,
		anchor:      AnchorCenter,
	}
}

// Clone returns an independent copy of the filter, so that a long-running analysis
// is not affected by edits to the zones.
func (f *Filter) Clone() *Filter {
	f.lock.RLock()
	defer f.lock.RUnlock()
	c := &Filter{
		log:         f.log,
		frameWidth:  f.frameWidth,
		frameHeight: f.frameHeight,
		anchor:      f.anchor,
		videoPath:   f.videoPath,
	}
	for i := range f.inclusion {
		c.inclusion = append(c.inclusion, f.inclusion[i].clone())
	}
	for i := range f.exclusion {
		c.exclusion = append(c.exclusion, f.exclusion[i].clone())
	}
	return c
}

func (f *Filter) SetFrameDimensions(width, height int) {
	f.lock.Lock()
	f.frameWidth = width
	f.frameHeight = height
	f.lock.Unlock()
	f.log.Infof("ROI frame dimensions set to %v x %v", width, height)
}

func (f *Filter) FrameDimensions() (width, height int) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.frameWidth, f.frameHeight
}

func (f *Filter) SetAnchor(anchor Anchor) error {
	if anchor != AnchorCenter && anchor != AnchorBase {
		return fmt.Errorf("%w (got '%v')", ErrInvalidAnchor, anchor)
	}
	f.lock.Lock()
	f.anchor = anchor
	f.lock.Unlock()
	return nil
}

func (f *Filter) Anchor() Anchor {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.anchor
}

func (f *Filter) SetVideoPath(path string) {
	f.lock.Lock()
	f.videoPath = path
	f.lock.Unlock()
}

func (f *Filter) AddInclusionZone(name string, points []nn.Point) error {
	return f.AddZone(Zone{Name: name, Type: KindInclusion, Polygon: points, Active: true})
}

func (f *Filter) AddExclusionZone(name string, points []nn.Point) error {
	return f.AddZone(Zone{Name: name, Type: KindExclusion, Polygon: points, Active: true})
}

// AddZone adds a zone. The zone's Active flag is honoured as given.
func (f *Filter) AddZone(z Zone) error {
	if err := z.Validate(); err != nil {
		return err
	}
	z = z.clone()

	f.lock.Lock()
	defer f.lock.Unlock()
	list := f.listForKind(z.Type)
	for i := range *list {
		if (*list)[i].Name == z.Name {
			return fmt.Errorf("%w (%v zone '%v')", ErrDuplicateZone, z.Type, z.Name)
		}
	}
	*list = append(*list, z)
	f.log.Infof("Added %v zone '%v' with %v points", z.Type, z.Name, len(z.Polygon))
	return nil
}

// SetZoneActive enables or disables every zone with the given name
func (f *Filter) SetZoneActive(name string, active bool) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	found := false
	for _, list := range []*[]Zone{&f.inclusion, &f.exclusion} {
		for i := range *list {
			if (*list)[i].Name == name {
				(*list)[i].Active = active
				found = true
			}
		}
	}
	if !found {
		return fmt.Errorf("%w: '%v'", ErrZoneNotFound, name)
	}
	return nil
}

// RemoveZone removes every zone with the given name
func (f *Filter) RemoveZone(name string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	nRemoved := 0
	for _, list := range []*[]Zone{&f.inclusion, &f.exclusion} {
		keep := (*list)[:0]
		for _, z := range *list {
			if z.Name == name {
				nRemoved++
			} else {
				keep = append(keep, z)
			}
		}
		*list = keep
	}
	if nRemoved == 0 {
		return fmt.Errorf("%w: '%v'", ErrZoneNotFound, name)
	}
	f.log.Infof("Removed zone '%v'", name)
	return nil
}

// Clear removes all zones
func (f *Filter) Clear() {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.inclusion = nil
	f.exclusion = nil
}

// Zones returns a copy of all zones, inclusion zones first
func (f *Filter) Zones() []Zone {
	f.lock.RLock()
	defer f.lock.RUnlock()
	all := make([]Zone, 0, len(f.inclusion)+len(f.exclusion))
	for i := range f.inclusion {
		all = append(all, f.inclusion[i].clone())
	}
	for i := range f.exclusion {
		all = append(all, f.exclusion[i].clone())
	}
	return all
}

func (f *Filter) IsEmpty() bool {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return len(f.inclusion) == 0 && len(f.exclusion) == 0
}

// Rescale moves all zone points from the current frame dimensions to new frame dimensions.
func (f *Filter) Rescale(width, height int) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if width == f.frameWidth && height == f.frameHeight {
		return
	}
	if f.frameWidth > 0 && f.frameHeight > 0 {
		for _, list := range [][]Zone{f.inclusion, f.exclusion} {
			for i := range list {
				list[i].Polygon = rescalePolygon(list[i].Polygon, f.frameWidth, f.frameHeight, width, height)
			}
		}
	}
	f.log.Infof("Rescaled ROI zones from %v x %v to %v x %v", f.frameWidth, f.frameHeight, width, height)
	f.frameWidth = width
	f.frameHeight = height
}

func rescalePolygon(p Polygon, fromW, fromH, toW, toH int) Polygon {
	out := make(Polygon, len(p))
	for i, v := range p {
		out[i] = nn.Point{
			X: int(float64(v.X) * float64(toW) / float64(fromW)),
			Y: int(float64(v.Y) * float64(toH) / float64(fromH)),
		}
	}
	return out
}

// AnchorPoint returns the point of the detection that is tested against the zones
func (f *Filter) AnchorPoint(d *nn.Detection) nn.Point {
	f.lock.RLock()
	anchor := f.anchor
	f.lock.RUnlock()
	return anchorPoint(anchor, d)
}

func anchorPoint(anchor Anchor, d *nn.Detection) nn.Point {
	if anchor == AnchorBase {
		return d.BaseCenter()
	}
	return d.Center
}

// Decide whether a detection survives the region of interest
func (f *Filter) Decide(d *nn.Detection) Decision {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.decidePoint(anchorPoint(f.anchor, d))
}

// Caller must hold at least a read lock
func (f *Filter) decidePoint(p nn.Point) Decision {
	if len(f.inclusion) == 0 && len(f.exclusion) == 0 {
		return Decision{Keep: true}
	}

	for i := range f.exclusion {
		z := &f.exclusion[i]
		if z.Active && z.Contains(p) {
			return Decision{Keep: false, Reason: ReasonExcluded, Zone: z.Name}
		}
	}

	// Any inclusion zone, even an inactive one, switches the filter into inclusion mode
	if len(f.inclusion) != 0 {
		for i := range f.inclusion {
			z := &f.inclusion[i]
			if z.Active && z.Contains(p) {
				return Decision{Keep: true}
			}
		}
		return Decision{Keep: false, Reason: ReasonOutsideInclusion}
	}

	return Decision{Keep: true}
}

// FilterDetections returns the detections that survive the region of interest, and the number that were dropped.
// Surviving detections are flagged with ROIFiltered, unless there are no zones at all, in which
// case the input is returned unmodified.
func (f *Filter) FilterDetections(detections []nn.Detection) (kept []nn.Detection, nDropped int) {
	f.lock.RLock()
	defer f.lock.RUnlock()

	if len(f.inclusion) == 0 && len(f.exclusion) == 0 {
		return detections, 0
	}

	kept = make([]nn.Detection, 0, len(detections))
	for _, d := range detections {
		decision := f.decidePoint(anchorPoint(f.anchor, &d))
		if !decision.Keep {
			if decision.Zone != "" {
				f.log.Debugf("ROI dropped %v at frame %v (%v '%v')", d.Class, d.FrameNumber, decision.Reason, decision.Zone)
			} else {
				f.log.Debugf("ROI dropped %v at frame %v (%v)", d.Class, d.FrameNumber, decision.Reason)
			}
			continue
		}
		d.ROIFiltered = true
		kept = append(kept, d)
	}
	return kept, len(detections) - len(kept)
}

func (f *Filter) listForKind(kind Kind) *[]Zone {
	if kind == KindInclusion {
		return &f.inclusion
	}
	return &f.exclusion
}
