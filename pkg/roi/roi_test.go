package roi

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/nn"
	"github.com/stretchr/testify/require"
)

func square(x1, y1, x2, y2 int) []nn.Point {
	return []nn.Point{{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2}}
}

// Create a detection with the given center
func detectionAt(class, x, y int) nn.Detection {
	return nn.FromXYXY(class, 0.9, x-20, y-20, x+20, y+20)
}

func newTestFilter(t *testing.T) *Filter {
	f := NewFilter(logs.NewTestingLog(t))
	f.SetFrameDimensions(1000, 1000)
	require.NoError(t, f.AddRoadPreset())
	require.NoError(t, f.AddTreePresets())
	return f
}

func TestContainsPoint(t *testing.T) {
	sq := Polygon(square(0, 0, 10, 10))
	require.True(t, ContainsPoint(sq, nn.Point{X: 5, Y: 5}))
	require.False(t, ContainsPoint(sq, nn.Point{X: 15, Y: 5}))
	require.False(t, ContainsPoint(sq, nn.Point{X: -1, Y: 5}))

	// Right and bottom edges are inside, left and top edges are outside
	require.True(t, ContainsPoint(sq, nn.Point{X: 10, Y: 5}))
	require.True(t, ContainsPoint(sq, nn.Point{X: 5, Y: 10}))
	require.False(t, ContainsPoint(sq, nn.Point{X: 0, Y: 5}))
	require.False(t, ContainsPoint(sq, nn.Point{X: 5, Y: 0}))

	// Concave polygon (a "U" shape)
	u := Polygon{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 7, Y: 10}, {X: 7, Y: 3}, {X: 3, Y: 3}, {X: 3, Y: 10}, {X: 0, Y: 10}}
	require.True(t, ContainsPoint(u, nn.Point{X: 1, Y: 8}))
	require.False(t, ContainsPoint(u, nn.Point{X: 5, Y: 8}))

	require.False(t, ContainsPoint(Polygon{{X: 0, Y: 0}, {X: 10, Y: 10}}, nn.Point{X: 5, Y: 5}))
}

func TestDecide(t *testing.T) {
	f := newTestFilter(t)

	d := detectionAt(nn.COCOCar, 500, 500)
	require.Equal(t, Decision{Keep: true}, f.Decide(&d))

	d = detectionAt(nn.COCOCar, 50, 100)
	require.Equal(t, Decision{Keep: false, Reason: ReasonExcluded, Zone: ZoneTreeLeft}, f.Decide(&d))

	d = detectionAt(nn.COCOCar, 500, 100)
	require.Equal(t, Decision{Keep: false, Reason: ReasonOutsideInclusion}, f.Decide(&d))

	// An inactive inclusion zone still puts the filter into inclusion mode
	require.NoError(t, f.SetZoneActive(ZoneRoad, false))
	d = detectionAt(nn.COCOCar, 500, 500)
	require.False(t, f.Decide(&d).Keep)

	// Remove the road, and now only the trees matter
	require.NoError(t, f.RemoveZone(ZoneRoad))
	require.True(t, f.Decide(&d).Keep)
	d = detectionAt(nn.COCOCar, 50, 100)
	require.False(t, f.Decide(&d).Keep)

	require.NoError(t, f.SetZoneActive(ZoneTreeLeft, false))
	require.True(t, f.Decide(&d).Keep)

	require.ErrorIs(t, f.SetZoneActive("nope", true), ErrZoneNotFound)
	require.ErrorIs(t, f.RemoveZone("nope"), ErrZoneNotFound)
}

func TestConcurrentDecide(t *testing.T) {
	f := newTestFilter(t)
	before := f.Zones()

	// Both points keep the same decision at 1000x1000 and 2000x2000, whether or not the trees are active
	road := detectionAt(nn.COCOCar, 500, 700)
	corner := detectionAt(nn.COCOCar, 50, 100)

	nThreads := 4
	errs := make(chan error, nThreads*1000)
	wg := sync.WaitGroup{}
	for g := 0; g < nThreads; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if !f.Decide(&road).Keep {
					errs <- fmt.Errorf("road detection dropped")
				}
				d := f.Decide(&corner)
				if d.Keep || (d.Reason == ReasonExcluded && d.Zone != ZoneTreeLeft) {
					errs <- fmt.Errorf("corner detection: %+v", d)
				}
				if kept, _ := f.FilterDetections([]nn.Detection{road, corner}); len(kept) != 1 {
					errs <- fmt.Errorf("FilterDetections kept %v", len(kept))
				}
			}
		}()
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if err := f.SetZoneActive(ZoneTreeLeft, i%2 == 0); err != nil {
				errs <- err
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				f.Rescale(2000, 2000)
			} else {
				f.Rescale(1000, 1000)
			}
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Doubling and halving is exact, so the zones are back where they started
	f.Rescale(1000, 1000)
	require.NoError(t, f.SetZoneActive(ZoneTreeLeft, true))
	require.Equal(t, before, f.Zones())
}

func TestAnchor(t *testing.T) {
	f := NewFilter(logs.NewTestingLog(t))
	f.SetFrameDimensions(1000, 1000)
	require.NoError(t, f.AddInclusionZone("lane", square(0, 500, 1000, 1000)))

	// Box spans y=400..520. The center is above the lane, but the base is inside it.
	d := nn.FromXYXY(nn.COCOCar, 0.9, 100, 400, 200, 520)
	require.False(t, f.Decide(&d).Keep)
	require.NoError(t, f.SetAnchor(AnchorBase))
	require.True(t, f.Decide(&d).Keep)
	require.Equal(t, nn.Point{X: 150, Y: 520}, f.AnchorPoint(&d))

	require.ErrorIs(t, f.SetAnchor("top"), ErrInvalidAnchor)
}

func TestAddZone(t *testing.T) {
	f := newTestFilter(t)
	require.ErrorIs(t, f.AddInclusionZone("tiny", []nn.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}), ErrTooFewPoints)
	require.ErrorIs(t, f.AddInclusionZone(ZoneRoad, square(0, 0, 10, 10)), ErrDuplicateZone)
	// Same name with a different kind is fine
	require.NoError(t, f.AddExclusionZone(ZoneRoad, square(0, 0, 10, 10)))
	require.Len(t, f.Zones(), 4)

	require.ErrorIs(t, f.ApplyPreset("bushes"), ErrUnknownPreset)

	f.Clear()
	require.True(t, f.IsEmpty())
}

func TestFilterDetections(t *testing.T) {
	f := NewFilter(logs.NewTestingLog(t))
	input := []nn.Detection{
		detectionAt(nn.COCOCar, 500, 500),
		detectionAt(nn.COCOCar, 50, 100),
		detectionAt(nn.COCOPerson, 500, 100),
	}

	// No zones, so everything is kept as-is
	kept, nDropped := f.FilterDetections(input)
	require.Len(t, kept, 3)
	require.Equal(t, 0, nDropped)
	require.False(t, kept[0].ROIFiltered)

	f = newTestFilter(t)
	kept, nDropped = f.FilterDetections(input)
	require.Equal(t, 2, nDropped)
	require.Len(t, kept, 1)
	require.Equal(t, nn.Point{X: 500, Y: 500}, kept[0].Center)
	require.True(t, kept[0].ROIFiltered)
	require.False(t, input[0].ROIFiltered)
}

func TestStatistics(t *testing.T) {
	f := newTestFilter(t)
	require.NoError(t, f.SetZoneActive(ZoneTreeRight, false))
	s := f.Statistics()
	require.Equal(t, 1, s.InclusionZonesCount)
	require.Equal(t, 2, s.ExclusionZonesCount)
	require.Equal(t, 1, s.ActiveInclusionZones)
	require.Equal(t, 1, s.ActiveExclusionZones)
	require.Equal(t, [2]int{1000, 1000}, s.FrameDimensions)
}

func TestSaveLoad(t *testing.T) {
	f := newTestFilter(t)
	f.SetVideoPath("test_camera/road.mp4")
	require.NoError(t, f.SetZoneActive(ZoneTreeRight, false))
	fn := filepath.Join(t.TempDir(), "roi.json")
	require.NoError(t, f.Save(fn))

	f2 := NewFilter(logs.NewTestingLog(t))
	require.NoError(t, f2.Load(fn))
	require.Equal(t, f.Config(), f2.Config())

	// Load into a video that is twice as wide and half as high
	f3 := NewFilter(logs.NewTestingLog(t))
	require.NoError(t, f3.LoadForFrame(fn, 2000, 500))
	w, h := f3.FrameDimensions()
	require.Equal(t, 2000, w)
	require.Equal(t, 500, h)
	road := f3.Config().InclusionZones[0]
	require.Equal(t, nn.Point{X: 200, Y: 150}, road.Polygon[0])
	require.Equal(t, nn.Point{X: 1800, Y: 400}, road.Polygon[2])

	// The polygon is stored as a list of [x,y] pairs
	raw, err := json.Marshal(&road)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"polygon":[[200,150],[1800,150],[1800,400],[200,400]]`)

	require.Error(t, f3.Load(filepath.Join(t.TempDir(), "missing.json")))

	bad := Config{FrameDimensions: [2]int{100, 100}, InclusionZones: []Zone{{Name: "x", Polygon: square(0, 0, 10, 10)[:2]}}}
	require.ErrorIs(t, f3.SetConfig(bad), ErrTooFewPoints)

	// Two zones of the same kind may not share a name, but zones of different kinds may
	before := f3.Config()
	dup := Config{
		FrameDimensions: [2]int{100, 100},
		InclusionZones:  []Zone{{Name: "x", Polygon: square(0, 0, 10, 10), Active: true}, {Name: "x", Polygon: square(20, 20, 30, 30), Active: true}},
	}
	require.ErrorIs(t, f3.SetConfig(dup), ErrDuplicateZone)
	require.Equal(t, before, f3.Config())
	dup.InclusionZones = dup.InclusionZones[:1]
	dup.ExclusionZones = []Zone{{Name: "x", Polygon: square(20, 20, 30, 30), Active: true}}
	require.NoError(t, f3.SetConfig(dup))
}

func TestMask(t *testing.T) {
	f := NewFilter(logs.NewTestingLog(t))
	f.SetFrameDimensions(1000, 1000)
	require.NoError(t, f.AddRoadPreset())

	m := f.Mask(8, 8)
	require.True(t, m.Get(4, 4))
	require.False(t, m.Get(0, 0))
	require.True(t, m.Allows(nn.Point{X: 500, Y: 500}, 1000, 1000))
	require.False(t, m.Allows(nn.Point{X: 10, Y: 10}, 1000, 1000))
	require.False(t, m.Allows(nn.Point{X: 1000, Y: 10}, 1000, 1000))

	encoded := m.EncodeBase64()
	m2, err := DecodeMaskBase64(encoded)
	require.NoError(t, err)
	require.Equal(t, m.Width, m2.Width)
	require.Equal(t, m.Height, m2.Height)
	require.Equal(t, m.Bits, m2.Bits)

	_, err = DecodeMaskBytes([]byte{0, 7, 1, 0})
	require.ErrorIs(t, err, ErrMaskDecode)
	_, err = DecodeMaskBytes([]byte{1, 8, 1, 0})
	require.ErrorIs(t, err, ErrMaskDecode)
}
