package server

import (
	"net/http"
	"strconv"

	"github.com/cyclopcam/trafficcount/pkg/render"
	"github.com/cyclopcam/trafficcount/pkg/roi"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

type roiJSON struct {
	Config     roi.Config     `json:"config"`
	Statistics roi.Statistics `json:"statistics"`
}

func (s *Server) sendROI(w http.ResponseWriter) {
	www.SendJSON(w, &roiJSON{
		Config:     s.roi.Config(),
		Statistics: s.roi.Statistics(),
	})
}

func (s *Server) saveROIOrPanic() {
	if err := s.saveROI(); err != nil {
		www.PanicServerErrorf("Failed to save ROI zones: %v", err)
	}
}

func (s *Server) httpGetROI(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.sendROI(w)
}

// Replace the whole zone set
func (s *Server) httpSetROI(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	c := roi.Config{}
	www.ReadJSON(w, r, &c, 1024*1024)
	if err := s.roi.SetConfig(c); err != nil {
		www.PanicBadRequestf("%v", err)
	}
	s.saveROIOrPanic()
	s.sendROI(w)
}

func (s *Server) httpROIPreset(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	// Unknown presets, and presets whose zones already exist, are both the caller's fault
	if err := s.roi.ApplyPreset(params.ByName("name")); err != nil {
		www.PanicBadRequestf("%v", err)
	}
	s.saveROIOrPanic()
	s.sendROI(w)
}

func (s *Server) httpROIDeleteZone(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if err := s.roi.RemoveZone(params.ByName("name")); err != nil {
		www.PanicNotFound()
	}
	s.saveROIOrPanic()
	s.sendROI(w)
}

// ?active=true|false
func (s *Server) httpROISetZoneActive(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	active, err := strconv.ParseBool(www.RequiredQueryValue(r, "active"))
	if err != nil {
		www.PanicBadRequestf("active must be true or false")
	}
	if err := s.roi.SetZoneActive(params.ByName("name"), active); err != nil {
		www.PanicNotFound()
	}
	s.saveROIOrPanic()
	s.sendROI(w)
}

// ?width=&height= (in cells). Width is rounded up to a multiple of 8.
func (s *Server) httpROIMask(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	width := www.QueryInt(r, "width")
	height := www.QueryInt(r, "height")
	if width == 0 {
		width = 64
	}
	if height == 0 {
		height = 48
	}
	width = (width + 7) &^ 7
	if width < 8 || height < 1 || width > roi.MaxMaskSize || height > roi.MaxMaskSize {
		www.PanicBadRequestf("Mask dimensions must be between 1 and %v", roi.MaxMaskSize)
	}
	type maskJSON struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Mask   string `json:"mask"` // base64
	}
	m := s.roi.Mask(width, height)
	www.SendJSON(w, &maskJSON{
		Width:  m.Width,
		Height: m.Height,
		Mask:   m.EncodeBase64(),
	})
}

func (s *Server) httpROIImage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	img, err := render.ZonesPNG(s.roi)
	www.Check(err)
	w.Header().Set("Content-Type", "image/png")
	w.Write(img)
}
