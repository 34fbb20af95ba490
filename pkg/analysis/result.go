package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyclopcam/trafficcount/pkg/classify"
	"github.com/cyclopcam/trafficcount/pkg/nn"
	"github.com/cyclopcam/trafficcount/pkg/sanity"
	"github.com/cyclopcam/trafficcount/pkg/tracker"
)

// Counts per minute of video
type TimelineEntry struct {
	Cars    int `json:"cars"`
	Trucks  int `json:"trucks"`
	Buses   int `json:"buses"`
	Persons int `json:"persons"`
	Total   int `json:"total"`  // All classes, including those without their own column
	Frames  int `json:"frames"` // Number of processed frames in this minute
}

func (t *TimelineEntry) add(class string) {
	switch class {
	case "car":
		t.Cars++
	case "truck":
		t.Trucks++
	case "bus":
		t.Buses++
	case "person":
		t.Persons++
	}
	t.Total++
}

func TimelineKey(timestamp float64) string {
	return fmt.Sprintf("minute_%v", int(timestamp/60))
}

// Counts of surviving detections
type DetectionSummary struct {
	Counts      map[string]int     `json:"counts"`       // Class name -> number of detections
	TotalFrames int                `json:"total_frames"` // Number of processed frames
	PerFrame    map[string]float64 `json:"per_frame"`    // Class name -> detections per processed frame
}

type ProcessingInfo struct {
	ConfidenceThreshold float32 `json:"confidence_threshold"`
	FPSAnalysis         int     `json:"fps_analysis"`
	ProcessedFrames     int     `json:"processed_frames"`
	SkipFrames          int     `json:"skip_frames"`
	MaxFrames           int     `json:"max_frames"`
	ProcessingSeconds   float64 `json:"processing_seconds"`
}

// Result of an analysis over a whole video
type Result struct {
	VideoInfo              VideoInfo                 `json:"video_info"`
	DetectionSummary       DetectionSummary          `json:"detection_summary"`
	TimelineStats          map[string]*TimelineEntry `json:"timeline_stats"`
	DetectionHistory       []nn.FrameDetections      `json:"detection_history"`
	ProcessingInfo         ProcessingInfo            `json:"processing_info"`
	TotalDetections        int                       `json:"total_detections"`
	AvgDetectionsPerMinute float64                   `json:"avg_detections_per_minute"`
	ROIDropped             int                       `json:"roi_dropped"`
	SanityStatistics       *sanity.Statistics        `json:"sanity_statistics,omitempty"`
	TrackingStatistics     *tracker.Statistics       `json:"tracking_statistics,omitempty"`
	Crossings              []tracker.Crossing        `json:"crossings,omitempty"`
	Classification         *classify.Summary         `json:"classification,omitempty"`
	ProcessingCompleted    bool                      `json:"processing_completed"`
	CompletionTimestamp    time.Time                 `json:"completion_timestamp"`
}

// AllDetections returns every surviving detection, in frame order
func (r *Result) AllDetections() []nn.Detection {
	all := []nn.Detection{}
	for _, f := range r.DetectionHistory {
		all = append(all, f.Detections...)
	}
	return all
}

// DefaultFilename returns analysis_<video stem>_<YYYYMMDD_HHMMSS>.json
func DefaultFilename(videoPath string, now time.Time) string {
	return fmt.Sprintf("analysis_%v_%v.json", VideoStem(videoPath), now.Format("20060102_150405"))
}

// VideoStem is the filename of the video without directory or extension
func VideoStem(videoPath string) string {
	base := filepath.Base(videoPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Save the result as JSON. The directory is created if necessary.
func (r *Result) Save(filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, raw, 0644)
}

func LoadResult(filename string) (*Result, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	r := &Result{}
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, fmt.Errorf("Invalid analysis file '%v': %w", filename, err)
	}
	return r, nil
}
