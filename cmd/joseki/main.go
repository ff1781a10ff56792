// ABOUTME: Entry point of the joseki audit ingestion service.
// ABOUTME: Wires storage, database, queue, caches, and the background loops.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/cache"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/config"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/database"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/metrics"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/normalizer"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/queue"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/scheduler"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/server"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/storage"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

func main() {
	cfg := parseConfig()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	service, err := NewService(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create service")
	}

	if err := service.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Service terminated")
	}
}

func parseConfig() *config.Config {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	port := flag.Int("port", 0, "HTTP port (overrides the config file)")
	mock := flag.Bool("mock", false, "Run with in-memory ports for local testing")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to load configuration")
		}
	} else {
		cfg = config.Default()
	}

	if *port != 0 {
		cfg.Port = *port
	}
	if *mock {
		cfg.MockMode = true
	}

	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	return cfg
}

// Service bundles every wired component of the ingestion pipeline.
type Service struct {
	cfg    *config.Config
	logger *logrus.Logger

	metrics       *metrics.Metrics
	scores        *cache.ScoreCache
	scheduler     *scheduler.Scheduler
	discovery     *scheduler.Discovery
	scoreReloader *scheduler.ScoreReloader
}

// NewService builds the component graph: external ports (real or mock),
// reference caches, normalizers, and the background loops.
func NewService(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Service, error) {
	logger.WithFields(logrus.Fields{
		"port":      cfg.Port,
		"mock_mode": cfg.MockMode,
	}).Info("Initializing joseki")

	var blobStorage storage.BlobStorage
	var scanQueue queue.Queue
	var checkStore database.CheckStore
	var cveStore database.CveStore
	var db database.Database
	var scoreDB database.ScoreDB

	if cfg.MockMode {
		memDB := database.NewMemoryDB(cfg.ImageScanTTL(), cfg.ScoreHistory())
		blobStorage = storage.NewMemoryStorage()
		scanQueue = queue.NewMemoryQueue()
		checkStore, cveStore, db, scoreDB = memDB, memDB, memDB, memDB
	} else {
		var err error
		blobStorage, err = storage.NewMinioStorage(ctx, cfg.BlobStorage, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create blob storage: %w", err)
		}

		scanQueue, err = queue.NewSQSQueue(ctx, cfg.Queue, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create image scan queue: %w", err)
		}

		pg, err := database.NewPostgresDB(cfg.Database.DSN, cfg.ImageScanTTL(), cfg.ScoreHistory(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		checkStore, cveStore, db, scoreDB = pg, pg, pg, pg
	}

	m := metrics.NewMetrics()

	checks, err := cache.NewChecksCache(ctx, checkStore, cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create checks cache: %w", err)
	}
	cves := cache.NewCveCache(cveStore, cfg.Cache, logger)
	scores := cache.NewScoreCache(scoreDB, cfg.ScoreHistory(), logger)

	ownership := normalizer.NewOwnershipExtractor(db, logger)

	registry := normalizer.NewRegistry()
	registry.Register(types.ScannerAzsk,
		normalizer.NewAzskNormalizer(blobStorage, db, checks, scores, m, logger))
	registry.Register(types.ScannerPolaris,
		normalizer.NewPolarisNormalizer(blobStorage, db, checks, scores, scanQueue, ownership, m, logger))
	registry.Register(types.ScannerTrivy,
		normalizer.NewTrivyNormalizer(blobStorage, db, cves, m, logger))

	sched := scheduler.NewScheduler(registry, logger)

	return &Service{
		cfg:           cfg,
		logger:        logger,
		metrics:       m,
		scores:        scores,
		scheduler:     sched,
		discovery:     scheduler.NewDiscovery(blobStorage, sched, cfg.DiscoveryInterval(), m, logger),
		scoreReloader: scheduler.NewScoreReloader(scores, cfg.ScoreReloadInterval(), m, logger),
	}, nil
}

// Start runs the background loops and serves HTTP until the context is
// cancelled or the scheduler hits a fatal error.
func (s *Service) Start(ctx context.Context) error {
	go s.discovery.Run(ctx)
	go s.scoreReloader.Run(ctx)

	schedulerErr := make(chan error, 1)
	go func() {
		schedulerErr <- s.scheduler.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.securityMiddleware(s.metrics.Handler().ServeHTTP))
	mux.HandleFunc("/scores", s.securityMiddleware(server.CreateScoresHandler(s.scores, s.logger)))
	mux.HandleFunc("/health", s.securityMiddleware(s.healthHandler))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	var fatalErr error
	go func() {
		select {
		case <-ctx.Done():
		case err := <-schedulerErr:
			// An unknown scanner type is a configuration error; surface it
			// by taking the whole service down.
			fatalErr = err
		}
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.WithField("port", s.cfg.Port).Info("Starting HTTP server")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}

	return fatalErr
}

func (s *Service) securityMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; script-src 'none'; object-src 'none'; frame-ancestors 'none'")

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"remote_ip":  r.RemoteAddr,
			"user_agent": r.UserAgent(),
		}).Debug("HTTP request received")

		next(w, r)
	}
}

func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok"}`)
}
