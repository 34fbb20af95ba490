package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

// Maximum number of analyses that a single IP may start per minute
const analysisStartLimit = 10

func (s *Server) setupHttpRoutes() error {
	logEveryRequest := false
	router := httprouter.New()

	handle := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP %v %v", method, r.URL.Path)
			}
			handle(w, r, params)
		})
	}

	// We create a unique rate limiter for each endpoint, so we don't need httprate.KeyByEndpoint
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/ping", s.httpPing)

	handle("GET", "/api/settings", s.httpGetSettings)
	handle("POST", "/api/settings", s.httpSetSettings)

	handle("GET", "/api/roi", s.httpGetROI)
	handle("POST", "/api/roi", s.httpSetROI)
	handle("POST", "/api/roi/preset/:name", s.httpROIPreset)
	handle("DELETE", "/api/roi/zone/:name", s.httpROIDeleteZone)
	handle("POST", "/api/roi/zone/:name/active", s.httpROISetZoneActive)
	handle("GET", "/api/roi/mask", s.httpROIMask)
	handle("GET", "/api/roi/image", s.httpROIImage)

	ratelimited("POST", "/api/analysis", s.httpStartAnalysis, analysisStartLimit, time.Minute)
	handle("GET", "/api/analysis/:id", s.httpGetAnalysis)
	handle("DELETE", "/api/analysis/:id", s.httpDeleteAnalysis)
	handle("GET", "/api/analysis/:id/progress", s.httpAnalysisProgress)
	handle("GET", "/api/analyses", s.httpListAnalyses)
	handle("GET", "/api/job/:id", s.httpGetJob)
	handle("POST", "/api/job/:id/:action", s.httpJobAction)

	handle("POST", "/api/review/:id", s.httpOpenReview)
	handle("GET", "/api/review/:id", s.httpGetReview)
	handle("POST", "/api/review/:id/:action", s.httpReviewAction)
	handle("GET", "/api/review/:id/export", s.httpReviewExport)
	handle("GET", "/api/review/:id/image", s.httpReviewImage)

	s.httpRouter = router
	return nil
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Time int64 `json:"time"`
	}
	ping := &pingJSON{
		Time: time.Now().Unix(),
	}
	www.SendJSON(w, ping)
}
