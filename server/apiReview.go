package server

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cyclopcam/trafficcount/pkg/render"
	"github.com/cyclopcam/trafficcount/pkg/review"
	"github.com/cyclopcam/trafficcount/pkg/roi"
	"github.com/cyclopcam/www"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

// reviewSession is a verification session that was opened over HTTP
type reviewSession struct {
	ID         string
	AnalysisID int64
	Session    *review.Session
	Width      int // Video resolution, for rendering
	Height     int
}

type reviewJSON struct {
	ID         string                            `json:"id"`
	AnalysisID int64                             `json:"analysis_id"`
	VideoPath  string                            `json:"video_path"`
	Classes    []string                          `json:"classes"`
	Class      string                            `json:"class"`
	Position   int                               `json:"position"` // 1-based, zero if the class is empty
	Total      int                               `json:"total"`
	Current    *review.Record                    `json:"current,omitempty"`
	Statistics map[string]review.ClassStatistics `json:"statistics"`
}

func (rs *reviewSession) toJSON() *reviewJSON {
	r := &reviewJSON{
		ID:         rs.ID,
		AnalysisID: rs.AnalysisID,
		VideoPath:  rs.Session.VideoPath,
		Classes:    rs.Session.Classes(),
		Class:      rs.Session.CurrentClass(),
		Statistics: rs.Session.Statistics(),
	}
	r.Position, r.Total = rs.Session.Position()
	if rec, err := rs.Session.Current(); err == nil {
		r.Current = &rec
	}
	return r
}

func (s *Server) getReviewOrPanic(id string) *reviewSession {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	rs := s.sessions[id]
	if rs == nil {
		www.PanicNotFound()
	}
	return rs
}

// Open a review session over an analysis. Statuses that were saved earlier are restored.
func (s *Server) httpOpenReview(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	analysisID := s.getAnalysisIDOrPanic(params)
	result, err := s.DB.GetAnalysis(analysisID)
	checkNotFound(err)

	rs := &reviewSession{
		ID:         uuid.NewString(),
		AnalysisID: analysisID,
		Session:    review.NewSession(s.Log, result),
		Width:      result.VideoInfo.Resolution[0],
		Height:     result.VideoInfo.Resolution[1],
	}
	if rs.Width <= 0 || rs.Height <= 0 {
		rs.Width, rs.Height = roi.DefaultFrameWidth, roi.DefaultFrameHeight
	}
	www.Check(s.DB.RestoreVerification(analysisID, rs.Session))

	s.sessionsLock.Lock()
	s.sessions[rs.ID] = rs
	s.sessionsLock.Unlock()

	s.Log.Infof("Opened review session %v of analysis %v", rs.ID, analysisID)
	www.SendJSON(w, rs.toJSON())
}

func (s *Server) httpGetReview(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.getReviewOrPanic(params.ByName("id")).toJSON())
}

func checkReviewError(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, review.ErrUnknownClass) || errors.Is(err, review.ErrOutOfRange) ||
		errors.Is(err, review.ErrNoDetections) || errors.Is(err, review.ErrInvalidStatus) {
		www.PanicBadRequestf("%v", err)
	}
	www.Check(err)
}

// Actions:
// next, prev, skip
// goto?n=       (1-based)
// select?class=
// accept, reject
// mark?index=&status=   (0-based index within the current class)
// save          (store statuses in the database, and write a verification export)
func (s *Server) httpReviewAction(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	rs := s.getReviewOrPanic(params.ByName("id"))
	session := rs.Session

	switch params.ByName("action") {
	case "next":
		session.Next()
	case "prev":
		session.Previous()
	case "skip":
		session.Skip()
	case "goto":
		checkReviewError(session.Goto(www.RequiredQueryInt(r, "n")))
	case "select":
		checkReviewError(session.SelectClass(www.RequiredQueryValue(r, "class")))
	case "accept":
		checkReviewError(session.Accept())
	case "reject":
		checkReviewError(session.Reject())
	case "mark":
		index, err := strconv.Atoi(www.RequiredQueryValue(r, "index"))
		if err != nil {
			www.PanicBadRequestf("Invalid index")
		}
		checkReviewError(session.Mark(index, review.Status(www.RequiredQueryValue(r, "status"))))
	case "save":
		checkNotFound(s.DB.SaveVerification(rs.AnalysisID, session))
		filename, err := session.Export(s.Config().Video.OutputDir)
		if err != nil {
			www.PanicServerErrorf("Failed to write verification export: %v", err)
		}
		s.Log.Infof("Review %v saved to %v", rs.ID, filename)
	default:
		www.PanicBadRequestf("Invalid action '%v'", params.ByName("action"))
	}
	www.SendJSON(w, rs.toJSON())
}

func (s *Server) httpReviewExport(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	rs := s.getReviewOrPanic(params.ByName("id"))
	buf := bytes.Buffer{}
	www.Check(rs.Session.ExportTo(&buf))
	www.SendFileDownload(w, review.ExportFilename(rs.Session.VideoPath, time.Now()), "application/json", buf.Bytes())
}

// Render the current detection. We have no video frames, so the detection is drawn on a black canvas
// of the same size as the video.
func (s *Server) httpReviewImage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	rs := s.getReviewOrPanic(params.ByName("id"))
	rec, err := rs.Session.Current()
	checkReviewError(err)
	c := render.NewCanvas(rs.Width, rs.Height)
	c.AnnotateDetection(rec.Detection, rec.VideoTime)
	img, err := c.PNG()
	www.Check(err)
	w.Header().Set("Content-Type", "image/png")
	w.Write(img)
}
