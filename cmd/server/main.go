package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"compvalue/server/config"
	"compvalue/server/internal/api"
	"compvalue/server/internal/cache"
	"compvalue/server/internal/comps"
	"compvalue/server/internal/database"
	"compvalue/server/internal/geocoding"
	"compvalue/server/internal/queue"
	"compvalue/server/internal/recorder"
	"compvalue/server/internal/rediscache"
	"compvalue/server/internal/scheduler"
	"compvalue/server/internal/similarity"
	"compvalue/server/internal/sources"
	"compvalue/server/internal/valuation"
)

func main() {
	importSales := flag.String("import-sales", "", "import public-record sales from a JSON file and exit")
	geocodeSales := flag.Bool("geocode-sales", false, "geocode imported sales without coordinates and exit")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithError(err).Warn("Invalid log level, using info")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		logger.WithError(err).Fatal("Failed to create database directory")
	}
	logger.Infof("Using database at: %s", cfg.Database.Path)

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	geocoder := geocoding.NewGeocoder(logger, geocoding.Options{
		BaseURL:   cfg.Geocoder.URL,
		UserAgent: cfg.Geocoder.UserAgent,
		CacheDir:  cfg.Geocoder.CacheDir,
		Delay:     cfg.Geocoder.Delay,
	})
	backfill := database.NewCoordinateBackfill(db, geocoder, logger)

	if *importSales != "" {
		if err := runImport(db, *importSales, logger); err != nil {
			logger.WithError(err).Fatal("Failed to import sales")
		}
		return
	}
	if *geocodeSales {
		if err := backfill.BackfillCoordinates(context.Background()); err != nil {
			logger.WithError(err).Fatal("Failed to update coordinates")
		}
		return
	}

	store, purger, closeStore, err := openStore(cfg, db, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open cache store")
	}
	defer closeStore()

	compCache := cache.NewService(store, cache.Options{
		TTL:          cfg.Cache.TTL,
		FetchTimeout: cfg.Cache.FetchTimeout,
	}, logger)
	defer compCache.Close()

	sourceList, err := buildSources(cfg, db)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure sources")
	}
	aggregator := sources.NewAggregator(sourceList, sources.Options{
		Timeout:         cfg.Sources.Timeout,
		Parallel:        cfg.Sources.Parallel,
		Blend:           cfg.Sources.Blend,
		PriceLowFactor:  cfg.Sources.PriceLowFactor,
		PriceHighFactor: cfg.Sources.PriceHighFactor,
	}, logger)
	names := make([]string, 0, len(sourceList))
	for _, src := range aggregator.Sources() {
		names = append(names, src.Name())
	}
	if len(names) == 0 {
		logger.Warn("No comp sources configured; lookups will only return manual comps")
	}
	logger.WithField("sources", names).Info("Configured comp sources")

	events := queue.NewEventQueue(cfg.Events.BufferSize, logger)
	history := queue.NewHistory(cfg.Events.HistoryLimit, cfg.Events.HistorySubjects)
	events.Subscribe(history.Record)
	events.Subscribe(queue.LogEvents(logger))
	events.Start()
	defer events.Close()

	manualComps := database.NewManualCompStore(db)
	engine := valuation.NewService(compCache, aggregator, geocoder, manualComps, events, valuation.Options{
		DefaultRadiusMiles: cfg.Valuation.DefaultRadiusMiles,
		DefaultMaxComps:    cfg.Valuation.MaxComps,
		Weights:            weights(cfg),
	}, logger)

	sched := scheduler.NewScheduler(purger, backfill, scheduler.Options{
		PurgeSpec:   cfg.Cache.PurgeSchedule,
		GeocodeSpec: cfg.Geocoder.BackfillSchedule,
		RunOnStart:  true,
	}, logger)
	if err := sched.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}
	defer sched.Stop()

	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
	}))

	handler := api.NewHandler(api.Deps{
		Valuations:  engine,
		ManualComps: manualComps,
		Analyses: recorder.NewRecorder(db.Gorm(), recorder.Options{
			MaxRetries: cfg.Recorder.MaxRetries,
			RetryDelay: cfg.Recorder.RetryDelay,
		}, logger),
		Progress: history,
		Sales:    db,
		Backfill: backfill,
	}, logger)
	api.SetupRoutes(router, handler)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
}

// openStore picks the persisted cache tier. The purger is nil for backends
// that expire entries on their own.
func openStore(cfg *config.Config, db *database.Database, logger *logrus.Logger) (cache.Store, scheduler.Purger, func(), error) {
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rdb, err := rediscache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.WithField("addr", cfg.Redis.Addr).Info("Using redis cache store")
		closeFn := func() {
			if err := rdb.Close(); err != nil {
				logger.WithError(err).Error("Failed to close redis client")
			}
		}
		return rediscache.NewStore(rdb, rediscache.WithPrefix(cfg.Redis.Prefix)), nil, closeFn, nil
	case config.BackendMemory:
		logger.Info("Using memory-only cache")
		return nil, nil, func() {}, nil
	default:
		store := database.NewCacheStore(db)
		return store, store, func() {}, nil
	}
}

func buildSources(cfg *config.Config, db *database.Database) ([]sources.Source, error) {
	defs, err := cfg.SourceList()
	if err != nil {
		return nil, err
	}

	list := make([]sources.Source, 0, len(defs))
	for _, def := range defs {
		switch def.Kind {
		case config.KindAPI:
			list = append(list, sources.NewAPISource(sources.APIConfig{
				Name:    def.Name,
				BaseURL: def.BaseURL,
				APIKey:  def.APIKey,
				Tag:     def.Tag,
				Timeout: def.Timeout(),
			}))
		case config.KindPublicRecords:
			list = append(list, sources.NewPublicRecordSource(db))
		case config.KindDemo:
			list = append(list, sources.NewDemoSource())
		default:
			return nil, fmt.Errorf("unknown source kind %q", def.Kind)
		}
	}
	return list, nil
}

func weights(cfg *config.Config) similarity.Weights {
	w := similarity.DefaultWeights()
	w.Distance = cfg.Valuation.DistanceWeight
	w.Recency = cfg.Valuation.RecencyWeight
	w.Size = cfg.Valuation.SizeWeight
	w.Bedrooms = cfg.Valuation.BedroomsWeight
	w.Baths = cfg.Valuation.BathsWeight
	return w
}

func runImport(db *database.Database, path string, logger *logrus.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read sales file: %w", err)
	}
	var sales []comps.PublicRecord
	if err := json.Unmarshal(data, &sales); err != nil {
		return fmt.Errorf("failed to parse sales file: %w", err)
	}
	if err := db.InsertSales(context.Background(), sales); err != nil {
		return err
	}
	logger.WithField("count", len(sales)).Info("Imported sales")
	return nil
}
