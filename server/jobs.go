package server

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyclopcam/trafficcount/pkg/analysis"
	"github.com/google/uuid"
)

// A job is an analysis that was started over HTTP.
// Jobs live in memory only. When a job finishes, its result is written to the
// result database and to the output directory.
type job struct {
	ID        string
	LabelFile string
	Started   time.Time
	processor *analysis.Processor

	lock       sync.Mutex
	analysisID int64  // Result database ID, once the result has been saved
	outputFile string // JSON export, once the result has been saved
	err        error
}

type jobJSON struct {
	ID         string             `json:"id"`
	LabelFile  string             `json:"label_file"`
	Started    time.Time          `json:"started"`
	Video      analysis.VideoInfo `json:"video"`
	Progress   *analysis.Progress `json:"progress"`
	AnalysisID int64              `json:"analysis_id,omitempty"`
	OutputFile string             `json:"output_file,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func (j *job) toJSON() *jobJSON {
	j.lock.Lock()
	defer j.lock.Unlock()
	r := &jobJSON{
		ID:         j.ID,
		LabelFile:  j.LabelFile,
		Started:    j.Started,
		Video:      j.processor.Info(),
		Progress:   j.processor.Progress(),
		AnalysisID: j.analysisID,
		OutputFile: j.outputFile,
	}
	if j.err != nil {
		r.Error = j.err.Error()
	}
	return r
}

// startJob begins analysing a label file in the background
func (s *Server) startJob(labelFile string, options analysis.Options) (*job, error) {
	source, err := analysis.NewLabelFileSource(labelFile)
	if err != nil {
		return nil, err
	}
	j := &job{
		ID:        uuid.NewString(),
		LabelFile: labelFile,
		Started:   time.Now(),
		processor: analysis.NewProcessor(s.Log, source, options),
	}

	s.jobsLock.Lock()
	s.jobs[j.ID] = j
	s.jobsLock.Unlock()

	s.jobsRunning.Add(1)
	go s.runJob(j)
	return j, nil
}

func (s *Server) runJob(j *job) {
	defer s.jobsRunning.Done()

	result, err := j.processor.Run(s.shutdownContext)
	if err != nil && !errors.Is(err, analysis.ErrStopped) {
		j.lock.Lock()
		j.err = err
		j.lock.Unlock()
		return
	}
	// A stopped analysis still has a partial result worth keeping
	id, outputFile, err := s.saveResult(result)
	j.lock.Lock()
	j.analysisID = id
	j.outputFile = outputFile
	j.err = err
	j.lock.Unlock()
}

func (s *Server) saveResult(result *analysis.Result) (int64, string, error) {
	id, err := s.DB.SaveAnalysis(result)
	if err != nil {
		s.Log.Errorf("Failed to save analysis of %v to database: %v", result.VideoInfo.Path, err)
		return 0, "", fmt.Errorf("Failed to save analysis: %w", err)
	}
	cfg := s.Config()
	outputFile := filepath.Join(cfg.Video.OutputDir, analysis.DefaultFilename(result.VideoInfo.Path, time.Now()))
	if err := result.Save(outputFile); err != nil {
		s.Log.Errorf("Failed to write %v: %v", outputFile, err)
		return id, "", fmt.Errorf("Failed to write analysis file: %w", err)
	}
	s.Log.Infof("Analysis %v saved to %v", id, outputFile)
	return id, outputFile, nil
}

func (s *Server) getJob(id string) *job {
	s.jobsLock.Lock()
	defer s.jobsLock.Unlock()
	return s.jobs[id]
}

// Stop all running analyses, and wait for their results to be saved
func (s *Server) stopAllJobs() {
	s.jobsLock.Lock()
	for _, j := range s.jobs {
		j.processor.Stop()
	}
	s.jobsLock.Unlock()
	s.jobsRunning.Wait()
}
