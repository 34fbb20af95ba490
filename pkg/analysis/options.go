package analysis

import (
	"github.com/cyclopcam/trafficcount/pkg/nn"
	"github.com/cyclopcam/trafficcount/pkg/roi"
	"github.com/cyclopcam/trafficcount/pkg/tracker"
)

const DefaultSampleEvery = 5

// Progress is reported to watchers every this many frames
const ProgressInterval = 30

type Options struct {
	ConfidenceThreshold float32           // Detections below this confidence are discarded
	EnabledClasses      map[int]bool      // COCO class IDs to keep. If nil, all classes are kept.
	SampleEvery         int               // Only process frames whose number is a multiple of this
	SkipFrames          int               // Start at this frame
	MaxFrames           int               // Stop when reaching this frame (0 = no limit)
	MinSize             int               // If max(width, height) of a detection is less than MinSize, then discard it
	MergeMap            map[string]string // See nn.MergeSimilarObjects. If nil, no merging is done.
	MergeIoU            float32           // Minimum IoU for merging
	ROI                 *roi.Filter       // If not nil, the region of interest is applied
	Sanity              bool              // Enable plausibility checks (shape, position, motion)
	Tracking            bool              // Enable tracking and line counting
	Classify            bool              // Summarize vehicle sizes and groups of people
	TrackerOptions      tracker.Options   // Frame dimensions are overridden by the video's
}

func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold: nn.DefaultProbabilityThreshold,
		EnabledClasses:      ClassSet(nn.DefaultDetectionClasses),
		SampleEvery:         DefaultSampleEvery,
		MergeMap:            nn.DefaultMergeMap,
		MergeIoU:            nn.DefaultMergeIoU,
		Classify:            true,
		TrackerOptions:      tracker.DefaultOptions(),
	}
}

// ClassSet flattens a class name -> COCO ids map into a set of ids
func ClassSet(classes map[string][]int) map[int]bool {
	set := map[int]bool{}
	for _, ids := range classes {
		for _, id := range ids {
			set[id] = true
		}
	}
	return set
}
