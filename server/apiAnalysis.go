package server

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/cyclopcam/trafficcount/pkg/analysis"
	"github.com/cyclopcam/trafficcount/server/resultdb"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// Body of POST /api/analysis. Missing fields take their value from the settings.
type startAnalysisJSON struct {
	LabelFile   string   `json:"label_file"` // Relative to video.input_dir, unless absolute
	Confidence  *float32 `json:"confidence"`
	FPSAnalysis *int     `json:"fps_analysis"`
	SkipFrames  *int     `json:"skip_frames"`
	MaxFrames   *int     `json:"max_frames"`
	Tracking    *bool    `json:"tracking"`
	Sanity      *bool    `json:"sanity"`
	UseROI      *bool    `json:"use_roi"` // Default true
}

func (s *Server) analysisOptions(req *startAnalysisJSON) analysis.Options {
	opt := s.Config().AnalysisOptions()
	if req.Confidence != nil {
		if *req.Confidence < 0 || *req.Confidence > 1 {
			www.PanicBadRequestf("confidence must be between 0 and 1")
		}
		opt.ConfidenceThreshold = *req.Confidence
	}
	if req.FPSAnalysis != nil {
		if *req.FPSAnalysis < 1 {
			www.PanicBadRequestf("fps_analysis must be at least 1")
		}
		opt.SampleEvery = *req.FPSAnalysis
	}
	if req.SkipFrames != nil {
		opt.SkipFrames = max(0, *req.SkipFrames)
	}
	if req.MaxFrames != nil {
		opt.MaxFrames = max(0, *req.MaxFrames)
	}
	if req.Tracking != nil {
		opt.Tracking = *req.Tracking
	}
	if req.Sanity != nil {
		opt.Sanity = *req.Sanity
	}
	if req.UseROI == nil || *req.UseROI {
		// The processor takes its own copy
		opt.ROI = s.roi
	}
	return opt
}

func (s *Server) httpStartAnalysis(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := startAnalysisJSON{}
	www.ReadJSON(w, r, &req, 64*1024)
	if req.LabelFile == "" {
		www.PanicBadRequestf("label_file is required")
	}
	labelFile := filepath.Clean(req.LabelFile)
	if !filepath.IsAbs(labelFile) {
		labelFile = filepath.Join(s.Config().Video.InputDir, labelFile)
	}
	opt := s.analysisOptions(&req)
	j, err := s.startJob(labelFile, opt)
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	s.Log.Infof("Started analysis job %v of %v", j.ID, labelFile)
	www.SendJSON(w, j.toJSON())
}

func (s *Server) getJobOrPanic(id string) *job {
	j := s.getJob(id)
	if j == nil {
		www.PanicNotFound()
	}
	return j
}

func (s *Server) httpGetJob(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.getJobOrPanic(params.ByName("id")).toJSON())
}

func (s *Server) httpJobAction(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	j := s.getJobOrPanic(params.ByName("id"))
	switch params.ByName("action") {
	case "pause":
		j.processor.Pause()
	case "resume":
		j.processor.Resume()
	case "stop":
		j.processor.Stop()
	default:
		www.PanicBadRequestf("Invalid action '%v'. Valid actions are pause, resume, stop", params.ByName("action"))
	}
	www.SendJSON(w, j.toJSON())
}

func isFinished(state analysis.State) bool {
	return state == analysis.StateCompleted || state == analysis.StateStopped || state == analysis.StateFailed
}

// Stream the progress of an analysis job over a websocket, until the job finishes
func (s *Server) httpAnalysisProgress(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	j := s.getJobOrPanic(params.ByName("id"))

	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpAnalysisProgress websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	ch := j.processor.AddWatcher()
	defer j.processor.RemoveWatcher(ch)

	// Send a snapshot immediately, which is also the final message if the job is already done
	first := j.processor.Progress()
	if err := c.WriteJSON(first); err != nil || isFinished(first.State) {
		return
	}
	for {
		select {
		case progress := <-ch:
			if err := c.WriteJSON(progress); err != nil {
				s.Log.Infof("Progress websocket closed: %v", err)
				return
			}
			if isFinished(progress.State) {
				return
			}
		case <-j.processor.Done():
			// Our final update may have been dropped, or sent before we started watching
			c.WriteJSON(j.processor.Progress())
			return
		}
	}
}

func (s *Server) getAnalysisIDOrPanic(params httprouter.Params) int64 {
	id := www.ParseID(params.ByName("id"))
	if id == 0 {
		www.PanicBadRequestf("Invalid analysis ID '%v'", params.ByName("id"))
	}
	return id
}

func checkNotFound(err error) {
	if errors.Is(err, resultdb.ErrNotFound) {
		www.PanicNotFound()
	}
	www.Check(err)
}

func (s *Server) httpGetAnalysis(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	result, err := s.DB.GetAnalysis(s.getAnalysisIDOrPanic(params))
	checkNotFound(err)
	www.SendJSON(w, result)
}

func (s *Server) httpDeleteAnalysis(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	checkNotFound(s.DB.DeleteAnalysis(s.getAnalysisIDOrPanic(params)))
	www.SendOK(w)
}

func (s *Server) httpListAnalyses(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	list, err := s.DB.ListAnalyses()
	www.Check(err)
	www.SendJSON(w, list)
}
