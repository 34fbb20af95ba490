package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/server"
	"github.com/cyclopcam/trafficcount/server/config"
	"github.com/cyclopcam/trafficcount/server/log"
)

func main() {
	parser := argparse.NewParser("trafficcount", "Traffic counting and verification server")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Settings file (YAML)", Default: config.DefaultFilename})
	listen := parser.String("l", "listen", &argparse.Options{Help: "HTTP listen address, overrides server.listen of the settings file", Default: ""})
	dbFile := parser.String("", "db", &argparse.Options{Help: "Result database, overrides server.db of the settings file", Default: ""})
	logLevel := parser.String("", "log-level", &argparse.Options{Help: "DEBUG, INFO, WARNING, ERROR or CRITICAL. Overrides logging.level of the settings file", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	// We need the settings before we can create the real logger
	bootLog, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(bootLog, *configFile)
	if err != nil {
		bootLog.Errorf("%v", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logger, err := log.NewLog(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		bootLog.Errorf("Failed to create logger: %v", err)
		os.Exit(1)
	}
	defer logger.Close()

	srv, err := server.NewServer(logger, *configFile, *dbFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()
	srv.WatchConfig()

	addr := *listen
	if addr == "" {
		addr = cfg.Server.Listen
	}
	go func() {
		if err := srv.ListenHTTP(addr); err != nil {
			logger.Errorf("%v", err)
			srv.Shutdown()
		}
	}()

	if err := <-srv.ShutdownComplete; err != nil {
		os.Exit(1)
	}
}
