package tracker

import (
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/nn"
	"github.com/stretchr/testify/require"
)

// Create a 40x40 detection centered at x,y
func detectionAt(class, x, y int) nn.Detection {
	return nn.FromXYXY(class, 0.9, x-20, y-20, x+20, y+20)
}

func TestSegments(t *testing.T) {
	lines := DefaultCountingLines(1920, 1080)
	require.Len(t, lines, 2)
	h := lines[0]
	require.True(t, h.Crosses(nn.Point{X: 500, Y: 550}, nn.Point{X: 500, Y: 520}))
	require.Equal(t, North, h.CrossingDirection(nn.Point{X: 500, Y: 550}, nn.Point{X: 500, Y: 520}))
	require.Equal(t, South, h.CrossingDirection(nn.Point{X: 500, Y: 520}, nn.Point{X: 500, Y: 550}))
	require.False(t, h.Crosses(nn.Point{X: 500, Y: 600}, nn.Point{X: 500, Y: 560}))

	v := lines[1]
	require.True(t, v.Crosses(nn.Point{X: 950, Y: 200}, nn.Point{X: 970, Y: 200}))
	require.Equal(t, East, v.CrossingDirection(nn.Point{X: 950, Y: 200}, nn.Point{X: 970, Y: 200}))
	require.Equal(t, West, v.CrossingDirection(nn.Point{X: 970, Y: 200}, nn.Point{X: 950, Y: 200}))

	require.Equal(t, North, NearestEdge(nn.Point{X: 500, Y: 10}, 1920, 1080))
	require.Equal(t, South, NearestEdge(nn.Point{X: 500, Y: 1070}, 1920, 1080))
	require.Equal(t, West, NearestEdge(nn.Point{X: 5, Y: 500}, 1920, 1080))
	require.Equal(t, East, NearestEdge(nn.Point{X: 1900, Y: 500}, 1920, 1080))
}

func TestTrackAndCount(t *testing.T) {
	tr := NewTracker(logs.NewTestingLog(t), DefaultOptions())
	forgotten := []int64{}
	tr.OnForget = func(id int64) {
		forgotten = append(forgotten, id)
	}

	for frame := 0; frame < 10; frame++ {
		detections := []nn.Detection{
			detectionAt(nn.COCOCar, 500, 700-frame*30),
			detectionAt(nn.COCOPerson, 900+frame*20, 200),
		}
		active := tr.Update(frame, detections)
		require.Len(t, active, 2)
		require.Equal(t, int64(1), detections[0].TrackID)
		require.Equal(t, int64(2), detections[1].TrackID)
	}

	s := tr.Statistics()
	require.Equal(t, 2, s.ActiveTracks)
	require.Equal(t, 2, s.TotalTracksCreated)
	require.Equal(t, 1, s.CrossingCounts[North])
	require.Equal(t, 1, s.CrossingCounts[East])
	require.Equal(t, 0, s.CrossingCounts[South])
	require.Equal(t, 1, s.ClassStatistics["car"].Crossings[North])
	require.Equal(t, 1, s.ClassStatistics["person"].Active)

	crossings := tr.Crossings()
	require.Len(t, crossings, 2)
	require.Equal(t, "vertical", crossings[0].Line)
	require.Equal(t, "person", crossings[0].Class)
	require.Equal(t, 3, crossings[0].Frame)
	require.Equal(t, "horizontal", crossings[1].Line)
	require.Equal(t, "car", crossings[1].Class)
	require.Equal(t, 6, crossings[1].Frame)

	// Let both objects disappear
	var active []Track
	for frame := 10; frame < 20; frame++ {
		active = tr.Update(frame, nil)
	}
	require.Empty(t, active)
	s = tr.Statistics()
	require.Equal(t, 0, s.ActiveTracks)
	require.Equal(t, 2, s.CompletedTracks)
	require.Equal(t, 10.0, s.AverageTrackLength)

	// Tracks are still remembered for a while
	require.Len(t, tr.tracks, 2)
	car := tr.tracks[0]
	require.Equal(t, South, car.EntrySide)
	require.Equal(t, North, car.ExitSide)
	require.InDelta(t, -90, car.Direction, 1e-3)
	require.Equal(t, 10, car.FramesTracked)
	require.Len(t, car.Positions(), 10)
	require.Equal(t, nn.Point{X: 500, Y: 700}, car.Positions()[0])

	tr.Update(200, nil)
	require.Empty(t, tr.tracks)
	require.ElementsMatch(t, []int64{1, 2}, forgotten)

	tr.Reset()
	require.Equal(t, 0, tr.Statistics().TotalTracksCreated)
}

func TestGreedyAssociation(t *testing.T) {
	tr := NewTracker(logs.NewTestingLog(t), DefaultOptions())
	tr.Update(0, []nn.Detection{
		detectionAt(nn.COCOCar, 100, 100),
		detectionAt(nn.COCOCar, 160, 100),
	})

	// The second detection is closer to the first track
	detections := []nn.Detection{
		detectionAt(nn.COCOCar, 150, 100),
		detectionAt(nn.COCOCar, 105, 100),
	}
	tr.Update(1, detections)
	require.Equal(t, int64(2), detections[0].TrackID)
	require.Equal(t, int64(1), detections[1].TrackID)

	// Different class, or too far away, means a new track
	detections = []nn.Detection{
		detectionAt(nn.COCOTruck, 150, 100),
		detectionAt(nn.COCOCar, 600, 600),
	}
	tr.Update(2, detections)
	require.Equal(t, int64(3), detections[0].TrackID)
	require.Equal(t, int64(4), detections[1].TrackID)
}

func TestCountOnce(t *testing.T) {
	tr := NewTracker(logs.NewTestingLog(t), DefaultOptions())
	// Zig-zag across the horizontal line. Only the first crossing counts.
	ys := []int{560, 520, 560, 520}
	for frame, y := range ys {
		tr.Update(frame, []nn.Detection{detectionAt(nn.COCOBus, 300, y)})
	}
	s := tr.Statistics()
	require.Equal(t, 1, s.CrossingCounts[North])
	require.Equal(t, 0, s.CrossingCounts[South])
	require.Equal(t, 1, s.TotalTracksCreated)
}
