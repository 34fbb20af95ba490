package nn

import (
	"encoding/json"
	"fmt"
	"os"
)

// VideoLabels contains labels for each video frame.
// This is the format that the external detector writes out for a video.
type VideoLabels struct {
	VideoPath   string         `json:"videoPath,omitempty"`
	Classes     []string       `json:"classes"` // If empty, class indices are COCO
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	FPS         float64        `json:"fps"`
	TotalFrames int            `json:"totalFrames,omitempty"` // If zero, the number of entries in Frames
	Frames      []*ImageLabels `json:"frames"`
}

type ImageLabels struct {
	Frame   int               `json:"frame,omitempty"` // For video, this is the frame number
	Objects []ObjectDetection `json:"objects"`
}

// ObjectDetection is an object that a neural network has found in an image
type ObjectDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// Load a label file produced by the detector
func LoadVideoLabels(filename string) (*VideoLabels, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	labels := &VideoLabels{}
	if err := json.Unmarshal(raw, labels); err != nil {
		return nil, fmt.Errorf("Invalid label file '%v': %w", filename, err)
	}
	if labels.FPS <= 0 {
		return nil, fmt.Errorf("Label file '%v' has no fps", filename)
	}
	// Some writers emit null for frames without detections
	frames := labels.Frames[:0]
	for _, f := range labels.Frames {
		if f != nil {
			frames = append(frames, f)
		}
	}
	labels.Frames = frames
	if labels.TotalFrames == 0 {
		labels.TotalFrames = len(labels.Frames)
		if n := len(labels.Frames); n != 0 && labels.Frames[n-1].Frame+1 > labels.TotalFrames {
			labels.TotalFrames = labels.Frames[n-1].Frame + 1
		}
	}
	return labels, nil
}

// ClassName returns the name of the class, using the file's own class list if it has one.
func (v *VideoLabels) ClassName(classID int) string {
	if classID >= 0 && classID < len(v.Classes) {
		return v.Classes[classID]
	}
	return ClassName(classID)
}

// Returns the duration of the video in seconds
func (v *VideoLabels) Duration() float64 {
	if v.FPS <= 0 {
		return 0
	}
	return float64(v.TotalFrames) / v.FPS
}
