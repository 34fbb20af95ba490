package tracker

import (
	"math"
	"sort"
	"sync"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/bmharper/ringbuffer"
	"github.com/chewxy/math32"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/idgen"
	"github.com/cyclopcam/trafficcount/pkg/nn"
)

// Number of positions that we remember for each track
const positionHistorySize = 30

type Options struct {
	MaxDistance    float32 // Maximum distance (pixels) between a track and a new detection, for them to be associated
	MinTrackLength int     // A track that was seen in at least this many frames is "completed" when it is lost
	MaxFramesLost  int     // A track that was not seen for this many updates becomes inactive
	ForgetAfter    int     // Inactive tracks are forgotten this many frames after they were last seen
	FrameWidth     int
	FrameHeight    int
	Lines          []CountingLine // If nil, DefaultCountingLines are used
}

func DefaultOptions() Options {
	return Options{
		MaxDistance:    100,
		MinTrackLength: 5,
		MaxFramesLost:  10,
		ForgetAfter:    100,
		FrameWidth:     1920,
		FrameHeight:    1080,
	}
}

// Track is an object that we have followed across frames
type Track struct {
	ID             int64      `json:"id"`
	Class          string     `json:"class"`
	ClassID        int        `json:"class_id"`
	Confidence     float32    `json:"confidence"`
	Box            nn.Rect    `json:"box"`
	Center         nn.Point   `json:"center"`
	FirstSeenFrame int        `json:"first_seen_frame"`
	LastSeenFrame  int        `json:"last_seen_frame"`
	FramesTracked  int        `json:"frames_tracked"`
	FramesLost     int        `json:"frames_lost"`
	Velocity       [2]float32 `json:"velocity"`
	Direction      float32    `json:"direction"` // Degrees, measured from +X towards +Y (image coordinates)
	Active         bool       `json:"active"`
	HasCrossedLine bool       `json:"has_crossed_line"`
	EntrySide      Direction  `json:"entry_side"`
	ExitSide       Direction  `json:"exit_side,omitempty"`

	history ringbuffer.RingP[nn.Point]
}

// Positions returns the recent positions of the track, oldest first
func (t *Track) Positions() []nn.Point {
	p := make([]nn.Point, t.history.Len())
	for i := range p {
		p[i] = t.history.Peek(i)
	}
	return p
}

// Crossing is a single event of a track crossing a counting line
type Crossing struct {
	TrackID   int64     `json:"track_id"`
	Class     string    `json:"class"`
	Line      string    `json:"line"`
	Direction Direction `json:"direction"`
	Frame     int       `json:"frame"`
}

// Tracker associates detections across frames, and counts objects crossing lines.
// Association is greedy: the closest (track, detection) pair of the same class is matched first.
type Tracker struct {
	log     logs.Log
	options Options
	lines   []CountingLine

	// Called when a track is forgotten
	OnForget func(trackID int64)

	lock             sync.Mutex
	tracks           []*Track // ordered by ID
	nextID           idgen.Int64
	frame            int
	nCompleted       int
	sumCompletedLen  int
	crossingCounts   map[Direction]int
	classCounts      map[string]*ClassStatistics
	crossings        []Crossing
	candidateIndices []int
}

func NewTracker(log logs.Log, options Options) *Tracker {
	t := &Tracker{
		log:     log,
		options: options,
	}
	if options.Lines != nil {
		t.lines = options.Lines
	} else {
		t.lines = DefaultCountingLines(options.FrameWidth, options.FrameHeight)
	}
	t.resetCounters()
	return t
}

func (t *Tracker) resetCounters() {
	t.nCompleted = 0
	t.sumCompletedLen = 0
	t.crossingCounts = map[Direction]int{}
	for _, d := range AllDirections {
		t.crossingCounts[d] = 0
	}
	t.classCounts = map[string]*ClassStatistics{}
	t.crossings = nil
}

func (t *Tracker) Lines() []CountingLine {
	return t.lines
}

type candidatePair struct {
	track     int // index into t.tracks
	detection int // index into detections
	distance  float32
}

// Update the tracker with the detections of a new frame.
// The TrackID of each detection is set.
// Returns a copy of the active tracks.
func (t *Tracker) Update(frame int, detections []nn.Detection) []Track {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.frame = frame

	// Index the current position of the active tracks
	active := make([]int, 0, len(t.tracks))
	for i, tr := range t.tracks {
		if tr.Active {
			active = append(active, i)
		}
	}
	pairs := []candidatePair{}
	if len(active) != 0 {
		fb := flatbush.NewFlatbush[int32]()
		fb.Reserve(len(active))
		for _, i := range active {
			c := t.tracks[i].Center
			fb.Add(int32(c.X), int32(c.Y), int32(c.X), int32(c.Y))
		}
		fb.Finish()

		r := int32(math32.Ceil(t.options.MaxDistance))
		for j := range detections {
			d := &detections[j]
			c := d.Center
			t.candidateIndices = fb.SearchFast(int32(c.X)-r, int32(c.Y)-r, int32(c.X)+r, int32(c.Y)+r, t.candidateIndices)
			for _, k := range t.candidateIndices {
				i := active[k]
				tr := t.tracks[i]
				if tr.ClassID != d.ClassID {
					continue
				}
				dist := tr.Center.Distance(c)
				if dist < t.options.MaxDistance {
					pairs = append(pairs, candidatePair{track: i, detection: j, distance: dist})
				}
			}
		}
	}

	sort.Slice(pairs, func(a, b int) bool {
		pa, pb := pairs[a], pairs[b]
		if pa.distance != pb.distance {
			return pa.distance < pb.distance
		}
		if pa.track != pb.track {
			return pa.track < pb.track
		}
		return pa.detection < pb.detection
	})

	trackMatched := make([]bool, len(t.tracks))
	detectionToTrack := make([]int, len(detections))
	for i := range detectionToTrack {
		detectionToTrack[i] = -1
	}
	for _, p := range pairs {
		if trackMatched[p.track] || detectionToTrack[p.detection] != -1 {
			continue
		}
		trackMatched[p.track] = true
		detectionToTrack[p.detection] = p.track
	}

	for j := range detections {
		if i := detectionToTrack[j]; i != -1 {
			t.updateTrack(t.tracks[i], &detections[j], frame)
		} else {
			t.createTrack(&detections[j], frame)
		}
	}

	for _, i := range active {
		if !trackMatched[i] {
			t.lostTrack(t.tracks[i])
		}
	}

	t.forgetOldTracks()

	result := []Track{}
	for _, tr := range t.tracks {
		if tr.Active {
			result = append(result, *tr)
		}
	}
	return result
}

func (t *Tracker) createTrack(d *nn.Detection, frame int) {
	tr := &Track{
		ID:             t.nextID.Next(),
		Class:          d.Class,
		ClassID:        d.ClassID,
		Confidence:     d.Confidence,
		Box:            d.Box(),
		Center:         d.Center,
		FirstSeenFrame: frame,
		LastSeenFrame:  frame,
		FramesTracked:  1,
		Active:         true,
		EntrySide:      NearestEdge(d.Center, t.options.FrameWidth, t.options.FrameHeight),
		history:        ringbuffer.NewRingP[nn.Point](nextPowerOf2(positionHistorySize)),
	}
	tr.history.Add(tr.Center)
	t.tracks = append(t.tracks, tr)
	t.classStats(tr.Class).Created++
	d.TrackID = tr.ID
	t.log.Debugf("New track %v (%v) at %v,%v", tr.ID, tr.Class, tr.Center.X, tr.Center.Y)
}

func (t *Tracker) updateTrack(tr *Track, d *nn.Detection, frame int) {
	oldCenter := tr.Center
	tr.Box = d.Box()
	tr.Confidence = d.Confidence
	tr.Center = d.Center
	tr.history.Add(tr.Center)

	tr.Velocity = [2]float32{float32(tr.Center.X - oldCenter.X), float32(tr.Center.Y - oldCenter.Y)}
	if math32.Abs(tr.Velocity[0]) > 0.1 || math32.Abs(tr.Velocity[1]) > 0.1 {
		tr.Direction = math32.Atan2(tr.Velocity[1], tr.Velocity[0]) * 180 / math32.Pi
	}

	tr.LastSeenFrame = frame
	tr.FramesTracked++
	tr.FramesLost = 0
	d.TrackID = tr.ID

	t.checkLineCrossings(tr, oldCenter, frame)
}

func (t *Tracker) checkLineCrossings(tr *Track, oldCenter nn.Point, frame int) {
	for i := range t.lines {
		line := &t.lines[i]
		if !line.Crosses(oldCenter, tr.Center) {
			continue
		}
		if tr.HasCrossedLine {
			continue
		}
		dir := line.CrossingDirection(oldCenter, tr.Center)
		tr.HasCrossedLine = true
		t.crossingCounts[dir]++
		cs := t.classStats(tr.Class)
		cs.Crossings[dir]++
		t.crossings = append(t.crossings, Crossing{
			TrackID:   tr.ID,
			Class:     tr.Class,
			Line:      line.Name,
			Direction: dir,
			Frame:     frame,
		})
		t.log.Infof("Track %v (%v) crossed line '%v' heading %v", tr.ID, tr.Class, line.Name, dir)
	}
}

func (t *Tracker) lostTrack(tr *Track) {
	tr.FramesLost++
	if tr.FramesLost < t.options.MaxFramesLost {
		return
	}
	tr.Active = false
	tr.ExitSide = NearestEdge(tr.Center, t.options.FrameWidth, t.options.FrameHeight)
	if tr.FramesTracked >= t.options.MinTrackLength {
		t.nCompleted++
		t.sumCompletedLen += tr.FramesTracked
		t.classStats(tr.Class).Completed++
	}
	t.log.Debugf("Track %v inactive after %v lost frames", tr.ID, tr.FramesLost)
}

func (t *Tracker) forgetOldTracks() {
	keep := t.tracks[:0]
	for _, tr := range t.tracks {
		if !tr.Active && t.frame-tr.LastSeenFrame > t.options.ForgetAfter {
			if t.OnForget != nil {
				t.OnForget(tr.ID)
			}
			continue
		}
		keep = append(keep, tr)
	}
	// Clear the tail so that forgotten tracks can be garbage collected
	for i := len(keep); i < len(t.tracks); i++ {
		t.tracks[i] = nil
	}
	t.tracks = keep
}

func (t *Tracker) classStats(class string) *ClassStatistics {
	cs := t.classCounts[class]
	if cs == nil {
		cs = &ClassStatistics{Crossings: map[Direction]int{}}
		t.classCounts[class] = cs
	}
	return cs
}

// Crossings returns all line crossing events so far
func (t *Tracker) Crossings() []Crossing {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]Crossing(nil), t.crossings...)
}

// Reset forgets all tracks and counters
func (t *Tracker) Reset() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.tracks = nil
	t.nextID.Reset()
	t.frame = 0
	t.resetCounters()
}

func nextPowerOf2(n int) int {
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}
