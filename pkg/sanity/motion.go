package sanity

import (
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/nn"
	"gonum.org/v1/gonum/stat"
)

const DefaultMinMovement = 5
const DefaultMaxJitter = 50

// Number of positions that we remember per track
const motionHistorySize = 10

// Minimum number of positions before we pass judgement
const motionMinPositions = 3

// MotionCoherence rejects tracks that either don't move (a static object that the detector
// keeps seeing), or move erratically (leaves shaking in the wind).
type MotionCoherence struct {
	log         logs.Log
	MinMovement float64 // Mean step length must be at least this many pixels
	MaxJitter   float64 // Standard deviation of step length must be at most this many pixels

	lock    sync.Mutex
	history map[int64][]nn.Point
}

func NewMotionCoherence(log logs.Log) *MotionCoherence {
	return &MotionCoherence{
		log:         log,
		MinMovement: DefaultMinMovement,
		MaxJitter:   DefaultMaxJitter,
		history:     map[int64][]nn.Point{},
	}
}

// Update adds a new position for the track, and returns true if the track's motion is coherent.
// New tracks are accepted until they have enough history.
func (m *MotionCoherence) Update(trackID int64, position nn.Point) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	h := append(m.history[trackID], position)
	if len(h) > motionHistorySize {
		h = h[len(h)-motionHistorySize:]
	}
	m.history[trackID] = h
	if len(h) < motionMinPositions {
		return true
	}
	return m.isCoherent(trackID, h)
}

func (m *MotionCoherence) isCoherent(trackID int64, positions []nn.Point) bool {
	steps := make([]float64, len(positions)-1)
	for i := 1; i < len(positions); i++ {
		steps[i-1] = float64(positions[i].Distance(positions[i-1]))
	}
	mean, variance := stat.PopMeanVariance(steps, nil)

	if variance > m.MaxJitter*m.MaxJitter {
		m.log.Debugf("Track %v moves erratically (variance %.1f), probably vegetation", trackID, variance)
		return false
	}
	if mean < m.MinMovement {
		m.log.Debugf("Track %v hardly moves (mean step %.1f), probably a false positive", trackID, mean)
		return false
	}
	return true
}

// Forget discards the history of a track
func (m *MotionCoherence) Forget(trackID int64) {
	m.lock.Lock()
	delete(m.history, trackID)
	m.lock.Unlock()
}

func (m *MotionCoherence) NumTracks() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.history)
}

func (m *MotionCoherence) Reset() {
	m.lock.Lock()
	m.history = map[int64][]nn.Point{}
	m.lock.Unlock()
}
