package resultdb

import (
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/analysis"
	"github.com/cyclopcam/trafficcount/pkg/nn"
	"github.com/cyclopcam/trafficcount/pkg/review"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *ResultDB {
	t.Helper()
	db, err := Open(logs.NewTestingLog(t), filepath.Join(t.TempDir(), "results.sqlite"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func detection(classID, frame int) nn.Detection {
	d := nn.FromXYXY(classID, 0.8, frame, 10, frame+40, 50)
	d.FrameNumber = frame
	d.Timestamp = float64(frame) / 10
	d.ROIFiltered = true
	return d
}

// Frames 0 and 10 have detections. Frame 5 has none.
func testResult() *analysis.Result {
	return &analysis.Result{
		VideoInfo: analysis.VideoInfo{Path: "test_camera/junction.mp4", FPS: 10, TotalFrames: 20},
		DetectionHistory: []nn.FrameDetections{
			{FrameNumber: 0, Timestamp: 0, DetectionCount: 2, Detections: []nn.Detection{detection(nn.COCOCar, 0), detection(nn.COCOPerson, 0)}},
			{FrameNumber: 5, Timestamp: 0.5, Detections: []nn.Detection{}},
			{FrameNumber: 10, Timestamp: 1, DetectionCount: 1, Detections: []nn.Detection{detection(nn.COCOCar, 10)}},
		},
		DetectionSummary:    analysis.DetectionSummary{Counts: map[string]int{"car": 2, "person": 1}, TotalFrames: 3},
		TotalDetections:     3,
		ProcessingCompleted: true,
	}
}

func TestSaveAndGet(t *testing.T) {
	db := setup(t)
	id, err := db.SaveAnalysis(testResult())
	require.NoError(t, err)
	require.NotZero(t, id)

	r, err := db.GetAnalysis(id)
	require.NoError(t, err)
	require.Equal(t, "test_camera/junction.mp4", r.VideoInfo.Path)
	require.Equal(t, 3, r.TotalDetections)
	require.Equal(t, map[string]int{"car": 2, "person": 1}, r.DetectionSummary.Counts)
	require.True(t, r.ProcessingCompleted)
	require.Len(t, r.DetectionHistory, 2)
	require.Equal(t, testResult().AllDetections(), r.AllDetections())

	_, err = db.GetAnalysis(id + 100)
	require.ErrorIs(t, err, ErrNotFound)

	cars, err := db.Detections(id, "car")
	require.NoError(t, err)
	require.Len(t, cars, 2)
	require.Equal(t, 0, cars[0].ClassIndex)
	require.Equal(t, 1, cars[1].ClassIndex)
	require.Equal(t, review.StatusPending, cars[1].Status)

	list, err := db.ListAnalyses()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, id, list[0].ID)
	require.True(t, list[0].VerifiedAt.IsZero())
}

func TestVerification(t *testing.T) {
	db := setup(t)
	id, err := db.SaveAnalysis(testResult())
	require.NoError(t, err)

	r, err := db.GetAnalysis(id)
	require.NoError(t, err)
	s := review.NewSession(logs.NewTestingLog(t), r)
	require.NoError(t, s.SelectClass("car"))
	require.NoError(t, s.Accept())
	require.NoError(t, s.Reject())
	require.NoError(t, db.SaveVerification(id, s))

	cars, err := db.Detections(id, "car")
	require.NoError(t, err)
	require.Equal(t, review.StatusVerified, cars[0].Status)
	require.Equal(t, review.StatusRejected, cars[1].Status)

	// A fresh session picks up where we left off
	s2 := review.NewSession(logs.NewTestingLog(t), r)
	require.NoError(t, db.RestoreVerification(id, s2))
	require.Equal(t, s.Results(), s2.Results())

	list, err := db.ListAnalyses()
	require.NoError(t, err)
	require.False(t, list[0].VerifiedAt.IsZero())

	require.ErrorIs(t, db.SaveVerification(id+1, s), ErrNotFound)
}

func TestDelete(t *testing.T) {
	db := setup(t)
	id1, err := db.SaveAnalysis(testResult())
	require.NoError(t, err)
	id2, err := db.SaveAnalysis(testResult())
	require.NoError(t, err)

	require.NoError(t, db.DeleteAnalysis(id1))
	require.ErrorIs(t, db.DeleteAnalysis(id1), ErrNotFound)
	dets, err := db.Detections(id1, "")
	require.NoError(t, err)
	require.Empty(t, dets)

	list, err := db.ListAnalyses()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, id2, list[0].ID)
}
