package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"

	"github.com/gin-gonic/gin"

	"chattranslator/internal/api"
	"chattranslator/internal/client"
	"chattranslator/internal/config"
	"chattranslator/internal/document"
	"chattranslator/internal/ocr"
	"chattranslator/internal/redis"
	"chattranslator/internal/service/chat"
	"chattranslator/internal/storage"
	"chattranslator/internal/telemetry"
	"chattranslator/internal/translate"
	"chattranslator/internal/tts"
	"chattranslator/internal/uploads"
	"chattranslator/internal/worker"
)

func main() {
	cfgPath := os.Getenv("CHATTRANSLATOR_CONFIG")
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, fs.ErrNotExist) && cfgPath == "" {
		log.Printf("config.json not found, using defaults")
		cfg, err = config.Default(), nil
	}
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, closeLog, err := telemetry.InitLogger(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer shutdownTelemetry()

	dbType := os.Getenv("CHATTRANSLATOR_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Info("opening database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: sessions, messages
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	backends, err := translate.NewBackends(ctx, cfg)
	if err != nil {
		log.Fatalf("init translation backends: %v", err)
	}
	cache := translate.NewCache(rdb, cfg.Translation.CacheTTL(), logger)
	router, err := translate.NewRouter(cfg.Translation, backends, cache, logger)
	if err != nil {
		log.Fatalf("init translation router: %v", err)
	}

	docs, err := document.NewReader(ctx)
	if err != nil {
		log.Fatalf("init document reader: %v", err)
	}
	store, err := uploads.NewStore(cfg.BasicConfig.UploadDir, cfg.BasicConfig.MaxUploadBytes(), logger)
	if err != nil {
		log.Fatalf("init upload store: %v", err)
	}
	store.StartCleaner(ctx, cfg.BasicConfig.CleanInterval(), cfg.BasicConfig.UploadTTL())

	extractor, err := ocr.NewExtractor(cfg)
	if err != nil {
		log.Fatalf("init ocr engine: %v", err)
	}
	pipeline := ocr.NewPipeline(extractor, router, cfg.OCR.Timeout(), logger)

	speech, err := tts.NewChainFromConfig(cfg, tts.WithLogger(logger))
	if err != nil {
		log.Fatalf("init speech chain: %v", err)
	}

	clients := client.NewRegistry(rdb, cfg.BasicConfig.ClientContextTTL(), logger)
	clients.StartJanitor(ctx, cfg.BasicConfig.CleanInterval())

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: cfg.BasicConfig.WorkerIdleTimeout(),
		Logger:      logger,
	})
	defer dispatcher.Close()

	handlers := api.NewHandler(api.Deps{
		Chat:           chat.NewService(db, logger),
		Clients:        clients,
		Translator:     router,
		OCR:            pipeline,
		Speech:         speech,
		Documents:      docs,
		Uploads:        store,
		Dispatcher:     dispatcher,
		MaxUploadBytes: cfg.BasicConfig.MaxUploadBytes(),
		ChunkRunes:     cfg.Translation.ChunkRunes,
		FileRateLimit:  cfg.BasicConfig.FileTranslateRateLimit,
		Logger:         logger,
	})

	engine := gin.New()
	engine.Use(gin.Recovery(), api.RequestLogger(logger))
	handlers.RegisterRoutes(engine)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	logger.Info("server listening", "addr", addr, "languages", router.Languages())
	if err := engine.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
