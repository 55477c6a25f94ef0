package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	configPath := flag.String("config", ".env", "Path to config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	help := flag.Bool("help", false, "Show help message")
	flag.Parse()

	args := flag.Args()
	if *help || len(args) == 0 {
		showHelp()
		os.Exit(0)
	}

	command := args[0]

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	switch command {
	case "serve":
		cmdServe(args[1:], configPath)
	case "replay":
		cmdReplay(args[1:], configPath)
	default:
		slog.Error("unknown command", "command", command)
		showHelp()
		os.Exit(1)
	}
}

// cmdServe starts the REST API server.
func cmdServe(args []string, configPath *string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", 0, "Port to listen on (overrides config/env)")
	fs.Parse(args)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	cfg.Print()

	history, err := NewHistory(cfg.History)
	if err != nil {
		slog.Warn("failed to connect to history database (continuing without audit log)", "error", err)
		history = nil
	} else if history != nil {
		defer history.Close()
	}

	archive, err := NewArchiver(cfg.Archive)
	if err != nil {
		slog.Warn("failed to initialize archiver (continuing without result archiving)", "error", err)
		archive = nil
	}

	fetcher := NewTileFetcher(cfg.TileServer.URLTemplate, cfg.TileServer.UserAgent)
	detector := NewHTTPDetector(cfg.Detection.DetectorURL)
	jobs := NewJobManager(cfg)
	orchestrator := NewOrchestrator(fetcher, detector, cfg, jobs)

	stop := make(chan struct{})
	go jobs.RunCleanupLoop(durationFromHours(cfg.Jobs.CleanupIntervalHours), stop)
	defer close(stop)

	apiServer := NewAPIServer(jobs, orchestrator, history, archive, cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Start(cfg.Server.Port); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		slog.Error("server failed to start", "error", err)
		os.Exit(1)
	case sig := <-sigChan:
		slog.Info("received shutdown signal, stopping server", "signal", sig)
		os.Exit(0)
	}
}

// cmdReplay runs detection against a single polygon file from the
// command line, without starting the HTTP server, for local debugging of
// the pipeline against a known problem area.
func cmdReplay(args []string, configPath *string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	fs.Parse(args)

	parsedArgs := fs.Args()
	if len(parsedArgs) == 0 {
		slog.Error("polygon geojson path required")
		slog.Info("Usage: building-detection-service replay <polygon.geojson>")
		os.Exit(1)
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	data, err := os.ReadFile(parsedArgs[0])
	if err != nil {
		slog.Error("failed to read polygon file", "error", err)
		os.Exit(1)
	}

	var polygon map[string]interface{}
	if err := json.Unmarshal(data, &polygon); err != nil {
		slog.Error("failed to parse polygon geojson", "error", err)
		os.Exit(1)
	}

	req := PolygonRequest{Polygon: polygon}
	req.ApplyDefaults(cfg)

	fetcher := NewTileFetcher(cfg.TileServer.URLTemplate, cfg.TileServer.UserAgent)
	detector := NewHTTPDetector(cfg.Detection.DetectorURL)
	jobs := NewJobManager(cfg)
	orchestrator := NewOrchestrator(fetcher, detector, cfg, jobs)

	job, err := jobs.Create(req)
	if err != nil {
		slog.Error("failed to create job", "error", err)
		os.Exit(1)
	}

	buildings, err := orchestrator.Run(context.Background(), job.JobID, req)
	if err != nil {
		slog.Error("detection failed", "error", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(buildings, "", "  ")
	fmt.Println(string(out))
}

func durationFromHours(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

func showHelp() {
	help := `Building Detection Service - detect buildings within a polygon from raster map tiles

Usage:
  building-detection-service [global options] <command> [command options] [arguments]

Global options:
  --config string   Path to config file (default ".env")
  --debug            Enable debug logging
  --help             Show this help message

Commands:
  serve              Start the REST API server
  replay <file>      Run detection against a polygon geojson file from the command line

Examples:
  building-detection-service serve --port 5050
  building-detection-service replay ./testdata/downtown.geojson
`
	fmt.Println(help)
}
