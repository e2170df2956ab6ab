package main

import (
	"context"
	"log"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"collab-backend/internal/cache"
	"collab-backend/internal/config"
	"collab-backend/internal/database"
	"collab-backend/internal/logging"
	"collab-backend/internal/persist"
	"collab-backend/internal/relay"
	"collab-backend/internal/roster"
	"collab-backend/internal/server"
)

func main() {
	// 설정 로드
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config load failed: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("❌ Logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// 저장소: PostgreSQL, 비활성화면 메모리 (재시작 시 유실)
	var (
		db    *gorm.DB
		store persist.Store
	)
	if cfg.Database.Enabled {
		db, err = database.Connect(cfg.Database)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer func() { _ = database.Close(db) }()
		store = database.NewRoomStore(db)
		logger.Info("✅ Database connected", zap.String("host", cfg.Database.Host))
	} else {
		store = persist.NewMemory()
		logger.Warn("database disabled, rooms are kept in memory only")
	}

	// Redis: 스냅샷 캐시 + 참가자 roster (선택)
	var (
		rdb      *cache.RedisClient
		rosterMg *roster.Manager
	)
	if cfg.Redis.Enabled {
		rdb, err = cache.NewRedisClient(cfg.Redis, logger)
		if err != nil {
			logger.Warn("redis unavailable, continuing without cache", zap.Error(err))
		} else {
			defer func() { _ = rdb.Close() }()
			store = persist.NewLayered(store, cache.NewSnapshotStore(rdb.Client(), cfg.Redis.SnapshotTTL), logger)
			rosterMg = roster.NewManager(rdb.Client(), cfg.Server.ServerID, 2*cfg.WebSocket.PongWait)
		}
	}

	// 비동기 영속화 + 룸 arena
	folder := relay.NewFolder(store, cfg.Persist, logger)
	folder.Start(context.Background())

	var opts []relay.Option
	if rosterMg != nil {
		opts = append(opts, relay.WithRoster(rosterMg))
	}
	hub := relay.NewHub(store, folder, cfg.Relay, logger, opts...)

	// 서버 생성 및 설정
	srv := server.New(cfg, server.Deps{
		DB:     db,
		Redis:  rdb,
		Roster: rosterMg,
		Hub:    hub,
		Folder: folder,
		Log:    logger,
	})
	srv.SetupMiddleware()
	srv.SetupRoutes()

	// 서버 시작
	if err := srv.Start(); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}
