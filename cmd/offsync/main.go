package main

import (
	"flag"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/coachscope/offsync/internal/apiclient"
	"github.com/coachscope/offsync/internal/config"
	"github.com/coachscope/offsync/internal/httpapi"
	"github.com/coachscope/offsync/internal/offsync"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	backend, err := offsync.BuildStateBackendFromDSN(cfg.State.DSN)
	if err != nil {
		log.Fatalf("failed to initialize state backend: %v", err)
	}

	var client *apiclient.Client
	if strings.TrimSpace(cfg.Platform.BaseURL) != "" {
		client = apiclient.NewClient(apiclient.Options{
			BaseURL: cfg.Platform.BaseURL,
			Token:   cfg.Platform.Token,
		})
	}

	var dispatcher *offsync.Dispatcher
	if client != nil {
		dispatcher = offsync.NewPlatformDispatcher(client)
	}

	service := offsync.NewService(offsync.Options{
		StateBackend:  backend,
		Dispatcher:    dispatcher,
		Client:        client,
		MaxAttempts:   cfg.Sync.MaxAttempts,
		DebounceDelay: cfg.Sync.DebounceDelay,
		StartOffline:  cfg.Sync.StartOffline,
	})
	defer service.Close()

	if path := stateFilePath(cfg.State.DSN); path != "" {
		watcher, err := offsync.NewStateWatcher(service, path, log.Default())
		if err != nil {
			log.Printf("state watcher disabled: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	var probe offsync.ProbeFunc
	if client != nil {
		probe = client.Health
	}
	monitor := offsync.NewMonitor(service, offsync.MonitorOptions{
		Probe:              probe,
		ProbeInterval:      cfg.Sync.ProbeInterval,
		BackgroundInterval: cfg.Sync.BackgroundInterval,
		Logger:             log.Default(),
	})
	monitor.Start()
	defer monitor.Stop()

	service.Start()

	server := httpapi.NewServerWithConfig(service, httpapi.ServerConfig{
		AuthToken: cfg.HTTP.AuthToken,
	})
	log.Printf("offsync listening on %s", cfg.HTTP.Addr)
	if err := http.ListenAndServe(cfg.HTTP.Addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// stateFilePath extracts a filesystem path from the state DSN, empty when the
// backend is not file-based.
func stateFilePath(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return ""
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return ""
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "":
		return dsn
	case "file":
		path := strings.TrimSpace(parsed.Path)
		if path == "" {
			path = strings.TrimSpace(parsed.Opaque)
		}
		if path == "" {
			path = strings.TrimSpace(parsed.Host)
		}
		return path
	default:
		return ""
	}
}
