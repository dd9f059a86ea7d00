// Command fleettrack runs one live-tracking session: it ingests positions
// from the configured push source, falls back to polling when the source goes
// quiet, records history and serves the HTTP API and gRPC health service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/fleettrack/internal/api"
	"github.com/banshee-data/fleettrack/internal/config"
	"github.com/banshee-data/fleettrack/internal/directory"
	"github.com/banshee-data/fleettrack/internal/history"
	"github.com/banshee-data/fleettrack/internal/session"
	"github.com/banshee-data/fleettrack/internal/snap"
	"github.com/banshee-data/fleettrack/internal/source"
	"github.com/banshee-data/fleettrack/internal/timeutil"
	"github.com/banshee-data/fleettrack/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to a JSON or YAML engine config (defaults apply when empty)")
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen = flag.String("grpc-listen", ":50051", "gRPC health listen address (empty disables)")
	noHistory  = flag.Bool("no-history", false, "Do not open the history database")
	showVer    = flag.Bool("version", false, "Print the version and exit")
)

// httpTimeout bounds every outbound REST, GTFS-RT, directory and OSRM call.
const httpTimeout = 10 * time.Second

func authHeader(token string) http.Header {
	if token == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func buildSource(cfg config.SourceConfig) (source.Source, error) {
	switch cfg.Kind {
	case config.SourceWebSocket:
		return source.NewWebSocket(cfg.URL, authHeader(cfg.Token)), nil
	case config.SourceKafka:
		return source.NewKafka(cfg.Brokers, cfg.Topic, cfg.GroupID), nil
	case config.SourceNMEA:
		return source.NewNMEA(cfg.EntityID, cfg.Device, cfg.Serial), nil
	case "":
		return nil, errors.New("source.kind is required")
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

func buildFetcher(cfg config.PollConfig, client *http.Client) (source.Fetcher, error) {
	switch cfg.Kind {
	case "":
		return nil, nil
	case config.PollREST:
		return &source.RESTFetcher{BaseURL: cfg.URL, Header: authHeader(cfg.Token), Client: client}, nil
	case config.PollGTFSRT:
		return &source.GTFSRTFetcher{URL: cfg.URL, Client: client}, nil
	default:
		return nil, fmt.Errorf("unknown poll kind %q", cfg.Kind)
	}
}

func loadConfig(path string) (*config.EngineConfig, error) {
	if path == "" {
		return config.DefaultEngineConfig(), nil
	}
	return config.Load(path)
}

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println(version.String())
		return
	}
	log.Printf("starting %s", version.String())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	client := &http.Client{Timeout: httpTimeout}

	srcCfg, pollCfg := cfg.GetSource(), cfg.GetPoll()
	src, err := buildSource(srcCfg)
	if err != nil {
		log.Fatalf("invalid source: %v", err)
	}
	fetcher, err := buildFetcher(pollCfg, client)
	if err != nil {
		log.Fatalf("invalid poll fallback: %v", err)
	}

	opts := session.Options{
		Config:  cfg,
		Clock:   timeutil.RealClock{},
		Source:  src,
		Fetcher: fetcher,
	}
	if u := cfg.GetDirectoryURL(); u != "" {
		opts.Directory = &directory.HTTP{BaseURL: u, Header: authHeader(srcCfg.Token), Client: client}
	}
	if u := cfg.GetOSRMURL(); u != "" {
		opts.Snapper = &snap.OSRMClient{BaseURL: u, Profile: cfg.GetOSRMProfile(), Client: client}
	}

	var store *history.Store
	if !*noHistory {
		store, err = history.Open(cfg.GetHistoryPath())
		if err != nil {
			log.Fatalf("failed to open history database: %v", err)
		}
		defer store.Close()
		opts.Tracks = store
		if cfg.GetRecordHistory() {
			opts.Recorder = store
		}
	}

	sess, err := session.New(opts)
	if err != nil {
		log.Fatalf("failed to create session: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx); err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	log.Printf("session %s started (source=%s poll=%s)", sess.ID(), srcCfg.Kind, pollCfg.Kind)

	var health *api.Health
	if *grpcListen != "" {
		health = api.NewHealth(sess, timeutil.RealClock{}, cfg.GetWatchdogInterval())
		if err := health.Serve(*grpcListen); err != nil {
			log.Fatalf("failed to start gRPC health: %v", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		srv := api.NewServer(sess, store)
		mux := srv.ServeMux()
		if err := srv.AttachAdminRoutes(mux); err != nil {
			log.Printf("admin routes disabled: %v", err)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("HTTP API listening on %s", *listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	if health != nil {
		health.Stop()
	}
	if err := sess.Close(); err != nil {
		log.Printf("session close: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
