package analysis

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/classify"
	"github.com/cyclopcam/trafficcount/pkg/gen"
	"github.com/cyclopcam/trafficcount/pkg/nn"
	"github.com/cyclopcam/trafficcount/pkg/roi"
	"github.com/cyclopcam/trafficcount/pkg/tracker"
	"github.com/stretchr/testify/require"
)

// 80x40 box centered at x,y
func object(class int, confidence float32, x, y int) nn.ObjectDetection {
	return nn.ObjectDetection{
		Class:      class,
		Confidence: confidence,
		Box:        nn.Rect{X: x - 40, Y: y - 20, Width: 80, Height: 40},
	}
}

// 10 seconds of video at 10 fps. Every frame has a confident car, and a low confidence person.
// Frame 0 also has a truck on top of the car.
func simpleLabels() *nn.VideoLabels {
	labels := &nn.VideoLabels{
		VideoPath:   "test_camera/street.mp4",
		Width:       1000,
		Height:      1000,
		FPS:         10,
		TotalFrames: 100,
	}
	for i := 0; i < 100; i++ {
		f := &nn.ImageLabels{Frame: i}
		f.Objects = append(f.Objects, object(nn.COCOCar, 0.9, 500, 600), object(nn.COCOPerson, 0.3, 200, 600))
		if i == 0 {
			f.Objects = append(f.Objects, object(nn.COCOTruck, 0.8, 501, 601))
		}
		labels.Frames = append(labels.Frames, f)
	}
	return labels
}

// A car driving north up the middle of the frame, and a "car" in the trees
func roadLabels() *nn.VideoLabels {
	labels := &nn.VideoLabels{
		VideoPath:   "test_camera/road.mp4",
		Width:       1000,
		Height:      1000,
		FPS:         10,
		TotalFrames: 100,
	}
	for i := 0; i < 100; i++ {
		labels.Frames = append(labels.Frames, &nn.ImageLabels{
			Frame: i,
			Objects: []nn.ObjectDetection{
				object(nn.COCOCar, 0.9, 500, 903-i*5),
				object(nn.COCOCar, 0.9, 50, 100),
			},
		})
	}
	return labels
}

func TestSimplePipeline(t *testing.T) {
	opt := DefaultOptions()
	p := NewProcessor(logs.NewTestingLog(t), NewLabelSource(simpleLabels()), opt)
	watcher := p.AddWatcher()
	result, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, p.State())

	require.True(t, result.ProcessingCompleted)
	require.Equal(t, 20, result.ProcessingInfo.ProcessedFrames)
	require.Len(t, result.DetectionHistory, 20)
	require.Equal(t, map[string]int{"car": 20}, result.DetectionSummary.Counts)
	require.Equal(t, 1.0, result.DetectionSummary.PerFrame["car"])
	require.Equal(t, 20, result.TotalDetections)
	require.InDelta(t, 120.0, result.AvgDetectionsPerMinute, 1e-9)
	require.Equal(t, &TimelineEntry{Cars: 20, Total: 20, Frames: 20}, result.TimelineStats["minute_0"])
	require.Nil(t, result.TrackingStatistics)

	// 80x40 boxes in 1000 pixel wide video are small cars
	require.NotNil(t, result.Classification)
	require.Equal(t, 20, result.Classification.Vehicles.Total)
	require.Equal(t, map[string]int{"car": 20}, result.Classification.Vehicles.ByType)
	require.Equal(t, 20, result.Classification.Vehicles.BySize[classify.SizeSmall])
	require.Equal(t, 0, result.Classification.Persons.Total)

	// Frame 0 had the truck merged into the car
	require.Equal(t, 1, result.DetectionHistory[0].DetectionCount)
	require.Equal(t, "car", result.DetectionHistory[0].Detections[0].Class)
	require.Equal(t, 5, result.DetectionHistory[1].FrameNumber)
	require.Equal(t, 0.5, result.DetectionHistory[1].Timestamp)

	updates := gen.DrainChannelIntoSlice(watcher)
	require.Len(t, updates, 5)
	last := updates[len(updates)-1]
	require.Equal(t, StateCompleted, last.State)
	require.Equal(t, 20, last.ProcessedFrames)

	// Running twice is not allowed
	_, err = p.Run(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestFrameWindow(t *testing.T) {
	opt := DefaultOptions()
	opt.SkipFrames = 20
	opt.MaxFrames = 50
	opt.SampleEvery = 10
	p := NewProcessor(logs.NewTestingLog(t), NewLabelSource(simpleLabels()), opt)
	result, err := p.Run(context.Background())
	require.NoError(t, err)
	frames := []int{}
	for _, f := range result.DetectionHistory {
		frames = append(frames, f.FrameNumber)
	}
	require.Equal(t, []int{20, 30, 40}, frames)

	opt = DefaultOptions()
	opt.EnabledClasses = map[int]bool{nn.COCOPerson: true}
	opt.ConfidenceThreshold = 0.2
	p = NewProcessor(logs.NewTestingLog(t), NewLabelSource(simpleLabels()), opt)
	result, err = p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]int{"person": 20}, result.DetectionSummary.Counts)
}

func TestMissingFrames(t *testing.T) {
	labels := simpleLabels()
	labels.Frames[5] = nil
	labels.Frames[10] = nil
	p := NewProcessor(logs.NewTestingLog(t), NewLabelSource(labels), DefaultOptions())
	result, err := p.Run(context.Background())
	require.NoError(t, err)
	// Frames 5 and 10 are still processed, but have no detections
	require.Equal(t, 20, result.ProcessingInfo.ProcessedFrames)
	require.Equal(t, 18, result.DetectionSummary.Counts["car"])
}

func TestRoadPipeline(t *testing.T) {
	filter := roi.NewFilter(logs.NewTestingLog(t))
	// Zones are drawn on a half size preview, and rescaled to the video
	filter.SetFrameDimensions(500, 500)
	require.NoError(t, filter.AddRoadPreset())
	require.NoError(t, filter.AddTreePresets())

	opt := DefaultOptions()
	opt.ROI = filter
	opt.Sanity = true
	opt.Tracking = true
	p := NewProcessor(logs.NewTestingLog(t), NewLabelSource(roadLabels()), opt)
	result, err := p.Run(context.Background())
	require.NoError(t, err)

	// The original filter is untouched
	w, _ := filter.FrameDimensions()
	require.Equal(t, 500, w)

	require.Equal(t, 20, result.ProcessingInfo.ProcessedFrames)
	require.Equal(t, 25, result.ROIDropped)
	require.Equal(t, 15, result.DetectionSummary.Counts["car"])
	require.NotNil(t, result.SanityStatistics)
	require.Equal(t, int64(0), result.SanityStatistics.RejectedContext)
	require.Equal(t, int64(0), result.SanityStatistics.RejectedMotion)

	require.NotNil(t, result.TrackingStatistics)
	require.Equal(t, 1, result.TrackingStatistics.TotalTracksCreated)
	require.Equal(t, 1, result.TrackingStatistics.CrossingCounts[tracker.North])
	require.Len(t, result.Crossings, 1)
	require.Equal(t, 85, result.Crossings[0].Frame)

	for _, d := range result.AllDetections() {
		require.True(t, d.ROIFiltered)
		require.Equal(t, int64(1), d.TrackID)
	}
}

// gatedSource hands out one frame each time something is sent on gate
type gatedSource struct {
	*LabelFileSource
	gate chan struct{}
}

func (s *gatedSource) NextFrame(ctx context.Context) (int, []nn.Detection, error) {
	select {
	case <-s.gate:
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
	return s.LabelFileSource.NextFrame(ctx)
}

func TestPauseResumeStop(t *testing.T) {
	src := &gatedSource{
		LabelFileSource: NewLabelSource(simpleLabels()),
		gate:            make(chan struct{}),
	}
	p := NewProcessor(logs.NewTestingLog(t), src, DefaultOptions())

	type runResult struct {
		result *Result
		err    error
	}
	finished := make(chan runResult)
	go func() {
		r, err := p.Run(context.Background())
		finished <- runResult{r, err}
	}()

	src.gate <- struct{}{}
	p.Pause()
	require.Equal(t, StatePaused, p.State())

	// The processor may already have been waiting for the next frame when we paused
	select {
	case src.gate <- struct{}{}:
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case src.gate <- struct{}{}:
		t.Fatal("Processor should be paused")
	case <-time.After(100 * time.Millisecond):
	}

	p.Resume()
	require.Equal(t, StateRunning, p.State())
	src.gate <- struct{}{}

	p.Stop()
	r := <-finished
	require.ErrorIs(t, r.err, ErrStopped)
	require.False(t, r.result.ProcessingCompleted)
	require.Equal(t, StateStopped, p.State())
	<-p.Done()
}

func TestStopBeforeRun(t *testing.T) {
	p := NewProcessor(logs.NewTestingLog(t), NewLabelSource(simpleLabels()), DefaultOptions())
	p.Stop()
	result, err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrStopped)
	require.Empty(t, result.DetectionHistory)
}

func TestResultFile(t *testing.T) {
	p := NewProcessor(logs.NewTestingLog(t), NewLabelSource(simpleLabels()), DefaultOptions())
	result, err := p.Run(context.Background())
	require.NoError(t, err)

	now := time.Date(2024, 3, 5, 14, 7, 9, 0, time.Local)
	name := DefaultFilename(result.VideoInfo.Path, now)
	require.Equal(t, "analysis_street_20240305_140709.json", name)

	fn := filepath.Join(t.TempDir(), "output", name)
	require.NoError(t, result.Save(fn))
	loaded, err := LoadResult(fn)
	require.NoError(t, err)
	require.Equal(t, result.TotalDetections, loaded.TotalDetections)
	require.Equal(t, result.VideoInfo, loaded.VideoInfo)
	require.Equal(t, result.AllDetections(), loaded.AllDetections())
	require.Equal(t, result.TimelineStats, loaded.TimelineStats)
}
