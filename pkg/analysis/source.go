package analysis

import (
	"context"
	"io"

	"github.com/cyclopcam/trafficcount/pkg/nn"
)

type VideoInfo struct {
	Path        string  `json:"path"`
	Duration    float64 `json:"duration"` // Seconds
	FPS         float64 `json:"fps"`
	TotalFrames int     `json:"total_frames"`
	Resolution  [2]int  `json:"resolution"` // Width, Height
}

// Source produces the raw detections of each frame of a video, in order
type Source interface {
	Info() VideoInfo
	// NextFrame returns the frame number and raw detections of the next frame, or io.EOF
	NextFrame(ctx context.Context) (frame int, detections []nn.Detection, err error)
}

// Seeker is implemented by sources that can jump ahead without reading the frames in between
type Seeker interface {
	Seek(frame int) error
}

// LabelFileSource reads detections from a label file, produced by running the detector over a video.
// Frames that are missing from the label file have no detections.
type LabelFileSource struct {
	labels *nn.VideoLabels
	info   VideoInfo
	frames map[int]*nn.ImageLabels
	next   int
}

func NewLabelFileSource(filename string) (*LabelFileSource, error) {
	labels, err := nn.LoadVideoLabels(filename)
	if err != nil {
		return nil, err
	}
	if labels.VideoPath == "" {
		labels.VideoPath = filename
	}
	return NewLabelSource(labels), nil
}

func NewLabelSource(labels *nn.VideoLabels) *LabelFileSource {
	s := &LabelFileSource{
		labels: labels,
		info: VideoInfo{
			Path:        labels.VideoPath,
			Duration:    labels.Duration(),
			FPS:         labels.FPS,
			TotalFrames: labels.TotalFrames,
			Resolution:  [2]int{labels.Width, labels.Height},
		},
		frames: map[int]*nn.ImageLabels{},
	}
	for _, f := range labels.Frames {
		if f != nil {
			s.frames[f.Frame] = f
		}
	}
	return s
}

func (s *LabelFileSource) Info() VideoInfo {
	return s.info
}

func (s *LabelFileSource) Seek(frame int) error {
	s.next = max(0, frame)
	return nil
}

func (s *LabelFileSource) NextFrame(ctx context.Context) (int, []nn.Detection, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	if s.next >= s.info.TotalFrames {
		return 0, nil, io.EOF
	}
	frame := s.next
	s.next++

	labels := s.frames[frame]
	if labels == nil {
		return frame, nil, nil
	}
	timestamp := float64(frame) / s.info.FPS
	detections := make([]nn.Detection, 0, len(labels.Objects))
	for _, obj := range labels.Objects {
		name := s.labels.ClassName(obj.Class)
		d := nn.FromObject(obj, name, frame, timestamp)
		if len(s.labels.Classes) != 0 {
			// Class indices in the file are not COCO, so recover the COCO id from the name if we can
			if id := nn.ClassID(name); id >= 0 {
				d.ClassID = id
			}
		}
		detections = append(detections, d)
	}
	return frame, detections, nil
}
