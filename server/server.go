package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/roi"
	"github.com/cyclopcam/trafficcount/server/config"
	"github.com/cyclopcam/trafficcount/server/resultdb"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	Log              logs.Log
	DB               *resultdb.ResultDB
	ShutdownComplete chan error // Receives one value after Shutdown() has finished

	configFile string
	configLock sync.RWMutex
	config     *config.Config
	roi        *roi.Filter

	jobsLock    sync.Mutex
	jobs        map[string]*job
	jobsRunning sync.WaitGroup

	sessionsLock sync.Mutex
	sessions     map[string]*reviewSession

	shutdownContext context.Context
	shutdownCancel  context.CancelFunc
	signalIn        chan os.Signal
	httpServer      *http.Server
	httpRouter      *httprouter.Router
	wsUpgrader      websocket.Upgrader
}

// NewServer loads the settings file, opens the result database, and loads the ROI zones.
// If dbFilename is not empty, it overrides the database path of the settings file.
func NewServer(logger logs.Log, configFile, dbFilename string) (*Server, error) {
	cfg, err := config.Load(logger, configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.CreateDirs(); err != nil {
		return nil, fmt.Errorf("Failed to create data directories: %w", err)
	}
	if dbFilename == "" {
		dbFilename = cfg.Server.DB
	}
	db, err := resultdb.Open(logger, dbFilename)
	if err != nil {
		return nil, err
	}

	s := &Server{
		Log:              logger,
		DB:               db,
		ShutdownComplete: make(chan error, 1),
		configFile:       configFile,
		config:           cfg,
		roi:              roi.NewFilter(logger),
		jobs:             map[string]*job{},
		sessions:         map[string]*reviewSession{},
	}
	s.shutdownContext, s.shutdownCancel = context.WithCancel(context.Background())
	s.loadROI()
	if err := s.setupHttpRoutes(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) loadROI() {
	cfg := s.Config()
	if cfg.ROI.File == "" {
		return
	}
	if err := s.roi.Load(cfg.ROI.File); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.Log.Infof("No ROI zones at %v", cfg.ROI.File)
		} else {
			s.Log.Warnf("Failed to load ROI zones from %v: %v", cfg.ROI.File, err)
		}
	}
	if cfg.ROI.Anchor != "" {
		if err := s.roi.SetAnchor(cfg.ROI.Anchor); err != nil {
			s.Log.Warnf("%v", err)
		}
	}
}

func (s *Server) saveROI() error {
	cfg := s.Config()
	if cfg.ROI.File == "" {
		return nil
	}
	return s.roi.Save(cfg.ROI.File)
}

// Config returns a copy of the current settings
func (s *Server) Config() *config.Config {
	s.configLock.RLock()
	defer s.configLock.RUnlock()
	return s.config.Clone()
}

func (s *Server) setConfig(cfg *config.Config) {
	s.configLock.Lock()
	s.config = cfg
	s.configLock.Unlock()
	if err := s.roi.SetAnchor(cfg.ROI.Anchor); err != nil && cfg.ROI.Anchor != "" {
		s.Log.Warnf("%v", err)
	}
}

// WatchConfig reloads the settings whenever the settings file changes, until the server shuts down
func (s *Server) WatchConfig() {
	go func() {
		err := config.Watch(s.shutdownContext, s.Log, s.configFile, func(cfg *config.Config) {
			s.Log.Infof("Settings file changed")
			s.setConfig(cfg)
		})
		if err != nil {
			s.Log.Warnf("Unable to watch settings file %v: %v", s.configFile, err)
		}
	}()
}

// addr example: ":8080"
func (s *Server) ListenHTTP(addr string) error {
	s.Log.Infof("Listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.httpRouter,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// Shutdown() was called by something other than ourselves, and it closed signalIn
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

// Shutdown stops all running analyses, closes the HTTP server and the database
func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	s.stopAllJobs()
	s.shutdownCancel()

	var err error
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = s.httpServer.Shutdown(ctx)
		cancel()
	}
	s.DB.Close()
	if err != nil {
		s.Log.Warnf("Shutdown complete, with error: %v", err)
	} else {
		s.Log.Infof("Shutdown complete")
	}
	s.ShutdownComplete <- err
}
