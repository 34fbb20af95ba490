package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/analysis"
	"github.com/cyclopcam/trafficcount/pkg/gen"
	"github.com/cyclopcam/trafficcount/pkg/nn"
	"github.com/cyclopcam/trafficcount/pkg/render"
	"github.com/cyclopcam/trafficcount/pkg/review"
	"github.com/cyclopcam/trafficcount/pkg/roi"
	"github.com/cyclopcam/trafficcount/server/config"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("countlabels", "Count traffic in a label file produced by the detector")
	input := parser.String("i", "input", &argparse.Options{Help: "Input label file", Required: true})
	output := parser.String("o", "output", &argparse.Options{Help: "Output analysis file. Defaults to video.output_dir of the settings file", Default: ""})
	configFile := parser.String("c", "config", &argparse.Options{Help: "Settings file (YAML)", Default: config.DefaultFilename})
	roiFile := parser.String("", "roi", &argparse.Options{Help: "ROI zone file. Defaults to roi.file of the settings file", Default: ""})
	noROI := parser.Flag("", "noroi", &argparse.Options{Help: "Ignore ROI zones", Default: false})
	confidence := parser.Float("", "confidence", &argparse.Options{Help: "Minimum detection confidence (0..1)", Default: -1.0})
	every := parser.Int("e", "every", &argparse.Options{Help: "Process one out of every N frames", Default: 0})
	skip := parser.Int("", "skip", &argparse.Options{Help: "Start processing at frame", Default: 0})
	maxFrames := parser.Int("", "max", &argparse.Options{Help: "Stop processing at frame", Default: 0})
	track := parser.Flag("t", "track", &argparse.Options{Help: "Enable tracking and line counting", Default: false})
	sanity := parser.Flag("s", "sanity", &argparse.Options{Help: "Enable plausibility checks", Default: false})
	classes := parser.String("", "classes", &argparse.Options{Help: "Comma-separated list of class names to count (eg car,truck). Defaults to detection_classes of the settings file", Default: ""})
	reviewExport := parser.String("", "review-export", &argparse.Options{Help: "Also write an empty verification export into this directory, with every detection pending", Default: ""})
	overview := parser.String("", "overview", &argparse.Options{Help: "Write a PNG of the zones and every surviving detection", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, _ := logs.NewLog()

	cfg, err := config.Load(logger, *configFile)
	check(err)
	options := cfg.AnalysisOptions()
	if *confidence >= 0 {
		options.ConfidenceThreshold = float32(*confidence)
	}
	if *every > 0 {
		options.SampleEvery = *every
	}
	if *skip > 0 {
		options.SkipFrames = *skip
	}
	if *maxFrames > 0 {
		options.MaxFrames = *maxFrames
	}
	if *classes != "" {
		enabled := map[int]bool{}
		for _, name := range strings.Split(*classes, ",") {
			id := nn.ClassID(strings.TrimSpace(name))
			if id < 0 {
				fmt.Printf("Unknown class '%v'\n", name)
				os.Exit(1)
			}
			enabled[id] = true
		}
		options.EnabledClasses = enabled
	}
	options.Tracking = options.Tracking || *track
	options.Sanity = options.Sanity || *sanity

	filter := roi.NewFilter(logger)
	if !*noROI {
		if *roiFile == "" {
			*roiFile = cfg.ROI.File
		}
		if *roiFile != "" {
			err := filter.Load(*roiFile)
			if errors.Is(err, os.ErrNotExist) {
				logger.Infof("No ROI zones at %v", *roiFile)
			} else {
				check(err)
			}
		}
		if cfg.ROI.Anchor != "" {
			check(filter.SetAnchor(cfg.ROI.Anchor))
		}
		options.ROI = filter
	}

	source, err := analysis.NewLabelFileSource(*input)
	check(err)
	processor := analysis.NewProcessor(logger, source, options)

	progress := processor.AddWatcher()
	go func() {
		for p := range progress {
			fmt.Printf("\rFrame %v / %v (%.0f%%)", p.CurrentFrame, p.TotalFrames, p.ProgressPercent)
		}
	}()

	result, err := processor.Run(context.Background())
	processor.RemoveWatcher(progress)
	close(progress)
	fmt.Printf("\n")
	check(err)

	if *output == "" {
		*output = filepath.Join(cfg.Video.OutputDir, analysis.DefaultFilename(result.VideoInfo.Path, time.Now()))
	}
	check(result.Save(*output))
	logger.Infof("Analysis written to %v", *output)

	for _, c := range gen.SortedKeys(result.DetectionSummary.Counts) {
		fmt.Printf("%-10v %6v\n", c, result.DetectionSummary.Counts[c])
	}
	fmt.Printf("%-10v %6v (%.1f per minute)\n", "total", result.TotalDetections, result.AvgDetectionsPerMinute)
	if result.TrackingStatistics != nil {
		fmt.Printf("%v line crossings\n", len(result.Crossings))
	}

	if *reviewExport != "" {
		filename, err := review.NewSession(logger, result).Export(*reviewExport)
		check(err)
		fmt.Printf("Verification export written to %v\n", filename)
	}

	if *overview != "" {
		w, h := result.VideoInfo.Resolution[0], result.VideoInfo.Resolution[1]
		if w <= 0 || h <= 0 {
			w, h = roi.DefaultFrameWidth, roi.DefaultFrameHeight
		}
		filter.Rescale(w, h)
		c := render.NewCanvas(w, h)
		c.DrawZones(filter.Zones())
		c.DrawDetections(result.AllDetections())
		img, err := c.PNG()
		check(err)
		check(os.WriteFile(*overview, img, 0644))
	}
}
