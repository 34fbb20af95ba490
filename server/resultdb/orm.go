package resultdb

import (
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/trafficcount/pkg/analysis"
	"github.com/cyclopcam/trafficcount/pkg/nn"
	"github.com/cyclopcam/trafficcount/pkg/review"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// An analysis of one video.
// The summary holds the whole analysis result, except for the detections, which live in the detection table.
type Analysis struct {
	BaseModel
	VideoPath  string                          `json:"videoPath"`
	CreatedAt  dbh.IntTime                     `json:"createdAt"`
	VerifiedAt dbh.IntTime                     `json:"verifiedAt"` // Zero if nobody has saved a review yet
	Summary    *dbh.JSONField[analysis.Result] `json:"summary"`
}

// A detection that survived the analysis, and its verification status.
// ClassIndex is the position of the detection within its class, in frame order,
// which is the same index that a review session uses.
type Detection struct {
	BaseModel
	AnalysisID  int64         `json:"analysisID"`
	Frame       int           `json:"frame"`
	Timestamp   float64       `json:"timestamp"`
	Class       string        `json:"class"`
	ClassID     int           `json:"classID"`
	ClassIndex  int           `json:"classIndex"`
	Confidence  float32       `json:"confidence"`
	X1          int           `gorm:"column:x1" json:"x1"`
	Y1          int           `gorm:"column:y1" json:"y1"`
	X2          int           `gorm:"column:x2" json:"x2"`
	Y2          int           `gorm:"column:y2" json:"y2"`
	TrackID     int64         `json:"trackID"`
	ROIFiltered bool          `gorm:"column:roi_filtered" json:"roiFiltered"`
	Status      review.Status `json:"status"`
}

func (d *Detection) ToDetection() nn.Detection {
	det := nn.FromXYXY(d.ClassID, d.Confidence, d.X1, d.Y1, d.X2, d.Y2)
	det.Class = d.Class
	det.FrameNumber = d.Frame
	det.Timestamp = d.Timestamp
	det.TrackID = d.TrackID
	det.ROIFiltered = d.ROIFiltered
	return det
}
