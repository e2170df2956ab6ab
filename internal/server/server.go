package server

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"collab-backend/internal/auth"
	"collab-backend/internal/cache"
	"collab-backend/internal/config"
	"collab-backend/internal/handler"
	"collab-backend/internal/middleware"
	"collab-backend/internal/relay"
	"collab-backend/internal/roster"
)

// Deps 서버가 라우팅하는 컴포넌트. DB, Redis, Roster는 nil 가능
type Deps struct {
	DB     *gorm.DB
	Redis  *cache.RedisClient
	Roster *roster.Manager
	Hub    *relay.Hub
	Folder *relay.Folder
	Log    *zap.Logger
}

// Server Fiber 서버 래퍼
type Server struct {
	app  *fiber.App
	cfg  *config.Config
	deps Deps
	log  *zap.Logger

	syncHandler   *handler.SyncHandler
	roomHandler   *handler.RoomHandler
	healthHandler *handler.HealthHandler
	jwtManager    *auth.JWTManager
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Collab Sync Relay",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384, // 16KB - 큰 헤더 허용
		WriteBufferSize:       16384,
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	// nil 포인터가 non-nil 인터페이스가 되지 않도록 분기
	var (
		beats  handler.Heartbeater
		lister handler.RosterLister
		pinger handler.Pinger
	)
	if deps.Roster != nil {
		beats = deps.Roster
		lister = deps.Roster
	}
	if deps.Redis != nil {
		pinger = deps.Redis
	}

	return &Server{
		app:           app,
		cfg:           cfg,
		deps:          deps,
		log:           deps.Log,
		syncHandler:   handler.NewSyncHandler(deps.Hub, beats, cfg.WebSocket, deps.Log),
		roomHandler:   handler.NewRoomHandler(deps.Hub, lister, deps.Log),
		healthHandler: handler.NewHealthHandler(deps.DB, pinger, deps.Hub, deps.Folder),
		jwtManager:    jwtManager,
	}
}

// App exposes the Fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Asia/Seoul",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.CORS.AllowOrigins,
		AllowHeaders: s.cfg.CORS.AllowHeaders,
		AllowMethods: "GET, POST, OPTIONS",
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// Rate Limiter 설정 (REST 조회용)
	apiLimiter := limiter.New(limiter.Config{
		Max:        s.cfg.Server.RateLimit,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() // IP 기반 제한
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// Room 라우트 그룹 (인증 필요)
	roomGroup := s.app.Group("/api/rooms", apiLimiter, auth.AuthMiddleware(s.jwtManager))
	roomGroup.Get("/:roomId/snapshot", middleware.RequireRoom(), s.roomHandler.GetSnapshot)
	roomGroup.Get("/:roomId/participants", middleware.RequireRoom(), s.roomHandler.GetParticipants)

	// WebSocket 동기화 엔드포인트. 룸은 연결 후 join 이벤트로 고른다
	s.app.Get("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}, auth.AuthMiddleware(s.jwtManager), websocket.New(s.syncHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("[Server] starting", zap.String("addr", s.cfg.Server.Port))
		errCh <- s.app.Listen(s.cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		s.log.Info("[Server] shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Serve runs the app on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown 종료 순서: HTTP(웹소켓 포함) → 룸 루프 → 영속화 큐 drain
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	deadline, ok := ctx.Deadline()
	timeout := 30 * time.Second
	if ok {
		timeout = time.Until(deadline)
	}
	if err := s.app.ShutdownWithTimeout(timeout); err != nil {
		errs = append(errs, err)
	}
	if s.deps.Hub != nil {
		if err := s.deps.Hub.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.deps.Folder != nil {
		if err := s.deps.Folder.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.log.Info("[Server] stopped")
	return errors.Join(errs...)
}
