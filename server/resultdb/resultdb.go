package resultdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/analysis"
	"github.com/cyclopcam/trafficcount/pkg/nn"
	"github.com/cyclopcam/trafficcount/pkg/review"
	"github.com/cyclopcam/trafficcount/server/log"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("Analysis not found")

// Number of detection rows per INSERT
const insertBatchSize = 500

// ResultDB stores analyses and the verification status of their detections
type ResultDB struct {
	log logs.Log
	db  *gorm.DB
}

// Open or create a result DB
func Open(logger logs.Log, dbFilename string) (*ResultDB, error) {
	logger = log.NewPrefixLogger(logger, "ResultDB")
	if err := os.MkdirAll(filepath.Dir(dbFilename), 0770); err != nil {
		return nil, fmt.Errorf("Failed to create result DB directory: %w", err)
	}
	logger.Infof("Opening DB at '%v'", dbFilename)
	db, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbFilename), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open result database %v: %w", dbFilename, err)
	}
	return &ResultDB{
		log: logger,
		db:  db,
	}, nil
}

func (r *ResultDB) Close() {
	if sqlDB, err := r.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// SaveAnalysis stores a new analysis, and returns its ID
func (r *ResultDB) SaveAnalysis(result *analysis.Result) (int64, error) {
	summary := *result
	summary.DetectionHistory = nil
	row := &Analysis{
		VideoPath: result.VideoInfo.Path,
		CreatedAt: dbh.MakeIntTime(time.Now()),
		Summary:   dbh.MakeJSONField(summary),
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		dets := makeDetectionRows(row.ID, result.AllDetections())
		if len(dets) == 0 {
			return nil
		}
		return tx.CreateInBatches(dets, insertBatchSize).Error
	})
	if err != nil {
		return 0, err
	}
	r.log.Infof("Saved analysis %v of %v (%v detections)", row.ID, row.VideoPath, result.TotalDetections)
	return row.ID, nil
}

// Detections must be in frame order, so that ClassIndex matches the order of a review session
func makeDetectionRows(analysisID int64, detections []nn.Detection) []*Detection {
	classIndex := map[string]int{}
	rows := make([]*Detection, 0, len(detections))
	for _, d := range detections {
		rows = append(rows, &Detection{
			AnalysisID:  analysisID,
			Frame:       d.FrameNumber,
			Timestamp:   d.Timestamp,
			Class:       d.Class,
			ClassID:     d.ClassID,
			ClassIndex:  classIndex[d.Class],
			Confidence:  d.Confidence,
			X1:          d.BBox[0],
			Y1:          d.BBox[1],
			X2:          d.BBox[2],
			Y2:          d.BBox[3],
			TrackID:     d.TrackID,
			ROIFiltered: d.ROIFiltered,
			Status:      review.StatusPending,
		})
		classIndex[d.Class]++
	}
	return rows
}

func (r *ResultDB) getAnalysisRow(id int64) (*Analysis, error) {
	row := &Analysis{}
	if err := r.db.First(row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w (%v)", ErrNotFound, id)
		}
		return nil, err
	}
	return row, nil
}

// GetAnalysis rebuilds the analysis result.
// The detection history only contains frames that have at least one detection.
func (r *ResultDB) GetAnalysis(id int64) (*analysis.Result, error) {
	row, err := r.getAnalysisRow(id)
	if err != nil {
		return nil, err
	}
	result := &analysis.Result{}
	if row.Summary != nil {
		*result = row.Summary.Data
	}
	dets, err := r.Detections(id, "")
	if err != nil {
		return nil, err
	}
	for i := range dets {
		d := dets[i].ToDetection()
		n := len(result.DetectionHistory)
		if n == 0 || result.DetectionHistory[n-1].FrameNumber != d.FrameNumber {
			result.DetectionHistory = append(result.DetectionHistory, nn.FrameDetections{
				FrameNumber: d.FrameNumber,
				Timestamp:   d.Timestamp,
			})
			n++
		}
		f := &result.DetectionHistory[n-1]
		f.Detections = append(f.Detections, d)
		f.DetectionCount = len(f.Detections)
	}
	return result, nil
}

// ListAnalyses returns all analyses, newest first. The summaries are not loaded.
func (r *ResultDB) ListAnalyses() ([]*Analysis, error) {
	var list []*Analysis
	if err := r.db.Omit("summary").Order("id DESC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// Detections of an analysis in frame order. If class is empty, all classes are returned.
func (r *ResultDB) Detections(analysisID int64, class string) ([]Detection, error) {
	q := r.db.Where("analysis_id = ?", analysisID)
	if class != "" {
		q = q.Where("class = ?", class)
	}
	var dets []Detection
	if err := q.Order("frame, id").Find(&dets).Error; err != nil {
		return nil, err
	}
	return dets, nil
}

// SaveVerification writes the status of every detection in the session
func (r *ResultDB) SaveVerification(analysisID int64, session *review.Session) error {
	if _, err := r.getAnalysisRow(analysisID); err != nil {
		return err
	}
	results := session.Results()
	return r.db.Transaction(func(tx *gorm.DB) error {
		for class, res := range results {
			for status, indices := range map[review.Status][]int{
				review.StatusVerified: res.Verified,
				review.StatusRejected: res.Rejected,
				review.StatusPending:  res.Pending,
			} {
				if len(indices) == 0 {
					continue
				}
				if err := tx.Model(&Detection{}).Where("analysis_id = ? AND class = ? AND class_index IN ?", analysisID, class, indices).
					Update("status", status).Error; err != nil {
					return err
				}
			}
		}
		return tx.Model(&Analysis{}).Where("id = ?", analysisID).Update("verified_at", dbh.MakeIntTime(time.Now())).Error
	})
}

// RestoreVerification applies the stored statuses to a session that was created from the same analysis
func (r *ResultDB) RestoreVerification(analysisID int64, session *review.Session) error {
	var dets []Detection
	if err := r.db.Where("analysis_id = ? AND status <> ?", analysisID, review.StatusPending).Find(&dets).Error; err != nil {
		return err
	}
	for _, d := range dets {
		if err := session.MarkClass(d.Class, d.ClassIndex, d.Status); err != nil {
			return fmt.Errorf("Stored verification does not match analysis %v: %w", analysisID, err)
		}
	}
	return nil
}

func (r *ResultDB) DeleteAnalysis(id int64) error {
	if _, err := r.getAnalysisRow(id); err != nil {
		return err
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("analysis_id = ?", id).Delete(&Detection{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Analysis{}, id).Error
	})
}
