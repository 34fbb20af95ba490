package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/classify"
	"github.com/cyclopcam/trafficcount/pkg/nn"
	"github.com/cyclopcam/trafficcount/pkg/roi"
	"github.com/cyclopcam/trafficcount/pkg/sanity"
	"github.com/cyclopcam/trafficcount/pkg/tracker"
)

var ErrStopped = errors.New("Analysis stopped")
var ErrAlreadyRunning = errors.New("Analysis is already running")

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Progress is a snapshot of a running analysis
type Progress struct {
	State                State          `json:"state"`
	CurrentFrame         int            `json:"current_frame"`
	TotalFrames          int            `json:"total_frames"`
	ProgressPercent      float64        `json:"progress_percent"`
	VideoTimestamp       float64        `json:"video_timestamp"`
	ProcessedFrames      int            `json:"processed_frames"`
	Counts               map[string]int `json:"counts"`
	DetectionsLastMinute int            `json:"detections_last_minute"`
	Error                string         `json:"error,omitempty"`
}

// Processor runs the detections of a video through the filtering, tracking and counting pipeline
type Processor struct {
	log     logs.Log
	source  Source
	options Options
	info    VideoInfo
	roi     *roi.Filter
	checker *sanity.Checker
	tracker *tracker.Tracker
	classes *classify.Classifier
	done    chan struct{}

	lock          sync.Mutex
	state         State
	cancel        context.CancelFunc
	stopRequested bool
	resume        chan struct{} // Closed when a pause ends
	currentFrame  int
	history       []nn.FrameDetections
	timeline      map[string]*TimelineEntry
	counts        map[string]int
	roiDropped    int
	summary       *classify.Summary

	watchersLock sync.RWMutex
	watchers     []chan *Progress
}

func NewProcessor(log logs.Log, source Source, options Options) *Processor {
	info := source.Info()
	if options.SampleEvery < 1 {
		options.SampleEvery = 1
	}
	p := &Processor{
		log:      log,
		source:   source,
		options:  options,
		info:     info,
		done:     make(chan struct{}),
		state:    StateIdle,
		timeline: map[string]*TimelineEntry{},
		counts:   map[string]int{},
	}
	if options.ROI != nil {
		// Work on a private copy, so that edits to the zones don't affect a running analysis
		p.roi = options.ROI.Clone()
		w, h := p.roi.FrameDimensions()
		if info.Resolution[0] > 0 && info.Resolution[1] > 0 && (w != info.Resolution[0] || h != info.Resolution[1]) {
			p.roi.Rescale(info.Resolution[0], info.Resolution[1])
		}
	}
	if options.Sanity {
		p.checker = sanity.NewChecker(log)
	}
	if options.Classify {
		p.classes = classify.NewClassifier(info.Resolution[0])
		p.summary = classify.NewSummary()
	}
	if options.Tracking {
		topt := options.TrackerOptions
		if info.Resolution[0] > 0 && info.Resolution[1] > 0 {
			topt.FrameWidth = info.Resolution[0]
			topt.FrameHeight = info.Resolution[1]
		}
		p.tracker = tracker.NewTracker(log, topt)
		if p.checker != nil {
			p.tracker.OnForget = p.checker.Motion.Forget
		}
	}
	return p
}

func (p *Processor) Info() VideoInfo {
	return p.info
}

// Done is closed when Run returns
func (p *Processor) Done() <-chan struct{} {
	return p.done
}

func (p *Processor) State() State {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.state
}

// Pause the analysis. Has no effect if the analysis is not running.
func (p *Processor) Pause() {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.state != StateRunning {
		return
	}
	p.state = StatePaused
	p.resume = make(chan struct{})
	p.log.Infof("Analysis paused at frame %v", p.currentFrame)
}

func (p *Processor) Resume() {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.state != StatePaused {
		return
	}
	p.state = StateRunning
	close(p.resume)
	p.resume = nil
	p.log.Infof("Analysis resumed")
}

// Stop the analysis. Run returns the partial result and ErrStopped.
func (p *Processor) Stop() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.stopRequested = true
	if p.cancel != nil {
		p.cancel()
	}
}

// Run processes the whole video. This blocks until the video is finished, the processor
// is stopped, or ctx is cancelled. A partial result is returned when stopped.
func (p *Processor) Run(ctx context.Context) (*Result, error) {
	p.lock.Lock()
	if p.state != StateIdle {
		p.lock.Unlock()
		return nil, ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancel = cancel
	p.state = StateRunning
	if p.stopRequested {
		cancel()
	}
	p.lock.Unlock()
	defer close(p.done)

	start := time.Now()
	p.log.Infof("Analysing %v (%v x %v, %.2f fps, %v frames)", p.info.Path, p.info.Resolution[0], p.info.Resolution[1], p.info.FPS, p.info.TotalFrames)

	err := p.run(ctx)

	p.lock.Lock()
	stopped := p.stopRequested
	switch {
	case err == nil:
		p.state = StateCompleted
	case stopped:
		p.state = StateStopped
		err = ErrStopped
	default:
		p.state = StateFailed
	}
	p.lock.Unlock()

	result := p.buildResult(time.Since(start), err == nil)
	final := p.Progress()
	if err != nil && !errors.Is(err, ErrStopped) {
		final.Error = err.Error()
		p.log.Errorf("Analysis of %v failed: %v", p.info.Path, err)
	} else {
		p.log.Infof("Analysis of %v %v after %.1f seconds: %v detections in %v frames", p.info.Path, final.State, time.Since(start).Seconds(), result.TotalDetections, result.ProcessingInfo.ProcessedFrames)
	}
	p.sendToWatchers(final)
	return result, err
}

func (p *Processor) run(ctx context.Context) error {
	if p.options.SkipFrames > 0 {
		if seeker, ok := p.source.(Seeker); ok {
			if err := seeker.Seek(p.options.SkipFrames); err != nil {
				return fmt.Errorf("Failed to seek to frame %v: %w", p.options.SkipFrames, err)
			}
		}
	}

	for {
		if err := p.waitWhilePaused(ctx); err != nil {
			return err
		}
		frame, raw, err := p.source.NextFrame(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
		if frame < p.options.SkipFrames {
			// Source doesn't support seeking
			continue
		}
		if p.options.MaxFrames > 0 && frame >= p.options.MaxFrames {
			p.log.Infof("Reached frame limit %v", p.options.MaxFrames)
			return nil
		}

		p.lock.Lock()
		p.currentFrame = frame
		p.lock.Unlock()

		if frame%p.options.SampleEvery == 0 {
			p.processFrame(frame, raw)
		}

		if frame%ProgressInterval == 0 {
			p.sendToWatchers(p.Progress())
		}
	}
}

func (p *Processor) waitWhilePaused(ctx context.Context) error {
	p.lock.Lock()
	resume := p.resume
	p.lock.Unlock()
	if resume != nil {
		select {
		case <-resume:
		case <-ctx.Done():
		}
	}
	return ctx.Err()
}

func (p *Processor) processFrame(frame int, raw []nn.Detection) {
	width, height := p.info.Resolution[0], p.info.Resolution[1]
	timestamp := 0.0
	if p.info.FPS > 0 {
		timestamp = float64(frame) / p.info.FPS
	}

	detections := make([]nn.Detection, 0, len(raw))
	for _, d := range raw {
		if err := d.Validate(); err != nil {
			p.log.Warnf("Ignoring invalid detection at frame %v: %v", frame, err)
			continue
		}
		if d.Confidence < p.options.ConfidenceThreshold {
			continue
		}
		if p.options.EnabledClasses != nil && !p.options.EnabledClasses[d.ClassID] {
			continue
		}
		if max(d.Width(), d.Height()) < p.options.MinSize {
			continue
		}
		d.FrameNumber = frame
		d.Timestamp = timestamp
		detections = append(detections, d)
	}

	if p.options.MergeMap != nil && len(detections) > 1 {
		retain := nn.MergeSimilarObjects(detections, p.options.MergeMap, p.options.MergeIoU)
		merged := make([]nn.Detection, 0, len(retain))
		for _, i := range retain {
			merged = append(merged, detections[i])
		}
		detections = merged
	}

	nDropped := 0
	if p.roi != nil {
		detections, nDropped = p.roi.FilterDetections(detections)
	}
	if p.checker != nil {
		detections, _ = p.checker.FilterContext(detections, width, height)
	}
	if p.tracker != nil {
		p.tracker.Update(frame, detections)
	}
	if p.checker != nil {
		detections, _ = p.checker.FilterMotion(detections)
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	p.roiDropped += nDropped
	p.history = append(p.history, nn.FrameDetections{
		FrameNumber:    frame,
		Timestamp:      timestamp,
		Detections:     detections,
		DetectionCount: len(detections),
	})
	key := TimelineKey(timestamp)
	entry := p.timeline[key]
	if entry == nil {
		entry = &TimelineEntry{}
		p.timeline[key] = entry
	}
	entry.Frames++
	for i := range detections {
		entry.add(detections[i].Class)
		p.counts[detections[i].Class]++
	}
	if p.classes != nil {
		p.classes.AddFrame(p.summary, detections)
	}
}

// Progress returns a snapshot of the analysis
func (p *Processor) Progress() *Progress {
	p.lock.Lock()
	defer p.lock.Unlock()
	pr := &Progress{
		State:           p.state,
		CurrentFrame:    p.currentFrame,
		TotalFrames:     p.info.TotalFrames,
		ProcessedFrames: len(p.history),
		Counts:          map[string]int{},
	}
	if p.info.TotalFrames > 0 {
		pr.ProgressPercent = float64(p.currentFrame) * 100 / float64(p.info.TotalFrames)
	}
	if p.info.FPS > 0 {
		pr.VideoTimestamp = float64(p.currentFrame) / p.info.FPS
	}
	for k, v := range p.counts {
		pr.Counts[k] = v
	}
	cutoff := pr.VideoTimestamp - 60
	for i := len(p.history) - 1; i >= 0 && p.history[i].Timestamp >= cutoff; i-- {
		pr.DetectionsLastMinute += p.history[i].DetectionCount
	}
	return pr
}

func (p *Processor) buildResult(elapsed time.Duration, completed bool) *Result {
	p.lock.Lock()
	defer p.lock.Unlock()

	r := &Result{
		VideoInfo: p.info,
		DetectionSummary: DetectionSummary{
			Counts:      map[string]int{},
			TotalFrames: len(p.history),
			PerFrame:    map[string]float64{},
		},
		TimelineStats:    map[string]*TimelineEntry{},
		DetectionHistory: p.history,
		ProcessingInfo: ProcessingInfo{
			ConfidenceThreshold: p.options.ConfidenceThreshold,
			FPSAnalysis:         p.options.SampleEvery,
			ProcessedFrames:     len(p.history),
			SkipFrames:          p.options.SkipFrames,
			MaxFrames:           p.options.MaxFrames,
			ProcessingSeconds:   elapsed.Seconds(),
		},
		ROIDropped:          p.roiDropped,
		ProcessingCompleted: completed,
		CompletionTimestamp: time.Now(),
	}
	if r.DetectionHistory == nil {
		r.DetectionHistory = []nn.FrameDetections{}
	}
	for k, v := range p.counts {
		r.DetectionSummary.Counts[k] = v
		r.TotalDetections += v
		if len(p.history) != 0 {
			r.DetectionSummary.PerFrame[k] = float64(v) / float64(len(p.history))
		}
	}
	for k, v := range p.timeline {
		c := *v
		r.TimelineStats[k] = &c
	}
	if p.info.Duration > 0 {
		r.AvgDetectionsPerMinute = float64(r.TotalDetections) / (p.info.Duration / 60)
	}
	if p.checker != nil {
		s := p.checker.Statistics()
		r.SanityStatistics = &s
	}
	if p.tracker != nil {
		s := p.tracker.Statistics()
		r.TrackingStatistics = &s
		r.Crossings = p.tracker.Crossings()
	}
	if p.summary != nil {
		r.Classification = p.summary.Clone()
	}
	return r
}
