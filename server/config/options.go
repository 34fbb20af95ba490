package config

import (
	"github.com/cyclopcam/trafficcount/pkg/analysis"
)

// AnalysisOptions translates the settings into options for the analysis pipeline.
// The ROI filter is not set, because it lives in its own file.
func (c *Config) AnalysisOptions() analysis.Options {
	opt := analysis.DefaultOptions()
	opt.ConfidenceThreshold = c.Model.Confidence
	opt.MergeIoU = c.Model.IoUThreshold
	opt.EnabledClasses = c.EnabledClassIDs()
	opt.SampleEvery = c.Video.FPSAnalysis
	opt.SkipFrames = c.Video.SkipFrames
	opt.MaxFrames = c.Video.MaxFrames
	opt.Tracking = c.Tracking.Enabled
	opt.Sanity = c.Tracking.Sanity
	return opt
}
