package server

import (
	"errors"
	"net/http"

	"github.com/cyclopcam/trafficcount/server/config"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// Without a key, the whole settings file is returned
func (s *Server) httpGetSettings(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cfg := s.Config()
	key := www.QueryValue(r, "key")
	if key == "" {
		www.SendJSON(w, cfg)
		return
	}
	v, err := cfg.Get(key)
	if errors.Is(err, config.ErrKeyNotFound) {
		www.PanicNotFound()
	}
	www.Check(err)
	www.SendJSON(w, v)
}

// Change a single setting, and save the settings file
func (s *Server) httpSetSettings(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	key := www.RequiredQueryValue(r, "key")
	value := www.RequiredQueryValue(r, "value")

	s.configLock.Lock()
	defer s.configLock.Unlock()
	cfg := s.config.Clone()
	if err := cfg.Set(key, value); err != nil {
		www.PanicBadRequestf("%v", err)
	}
	if s.configFile != "" {
		if err := cfg.Save(s.configFile); err != nil {
			www.PanicServerErrorf("Failed to save settings: %v", err)
		}
	}
	s.config = cfg
	if cfg.ROI.Anchor != "" {
		www.Check(s.roi.SetAnchor(cfg.ROI.Anchor))
	}
	s.Log.Infof("Setting %v = %v", key, value)
	www.SendOK(w)
}
