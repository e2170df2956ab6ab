package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"collab-backend/internal/cache"
	"collab-backend/internal/database"
	"collab-backend/internal/mesh"
	"collab-backend/internal/presence"
	"collab-backend/internal/relay"
)

// Config 애플리케이션 전체 설정
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Auth      AuthConfig
	Log       LogConfig
	Database  database.Config    `envPrefix:"DB_"`
	Redis     cache.Config       `envPrefix:"REDIS_"`
	Relay     relay.Config       `envPrefix:"RELAY_"`
	Persist   relay.FolderConfig `envPrefix:"RELAY_"`
	Presence  presence.Config    `envPrefix:"PRESENCE_"`
	Throttle  presence.Throttles `envPrefix:"CLIENT_"`
	Media     mesh.PionConfig    `envPrefix:"MEDIA_"`
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	ServerID        string        `env:"SERVER_ID" envDefault:"collab-1"`
	RateLimit       int           `env:"RATE_LIMIT" envDefault:"60"` // REST 분당 요청 수
}

// WebSocketConfig WebSocket 관련 설정
type WebSocketConfig struct {
	ReadBufferSize  int           `env:"WS_READ_BUFFER_SIZE" envDefault:"16384"`
	WriteBufferSize int           `env:"WS_WRITE_BUFFER_SIZE" envDefault:"16384"`
	WriteTimeout    time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"5s"`
	PingInterval    time.Duration `env:"WS_PING_INTERVAL" envDefault:"25s"`
	PongWait        time.Duration `env:"WS_PONG_WAIT" envDefault:"60s"`
	SendQueueSize   int           `env:"WS_SEND_QUEUE_SIZE" envDefault:"256"`
	MaxMessageSize  int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"1048576"`
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	AllowHeaders string `env:"CORS_ALLOW_HEADERS" envDefault:"Origin, Content-Type, Accept, Authorization"`
}

// AuthConfig 인증 설정
type AuthConfig struct {
	JWTSecret         string        `env:"JWT_SECRET,required,notEmpty"`
	AccessTokenExpiry time.Duration `env:"ACCESS_TOKEN_EXPIRY" envDefault:"1h"`
}

// LogConfig 로깅 설정
type LogConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Development bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

const insecureSecret = "change-this-secret-in-production"

// Load 환경 변수에서 설정 로드
func Load() (*Config, error) {
	// .env 파일 로드 (없어도 에러 무시)
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}
	return Parse()
}

// Parse reads the process environment into a Config.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 설정 값 검증
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == insecureSecret {
		errs = append(errs, errors.New("JWT_SECRET must be changed from the default value"))
	}
	if c.WebSocket.SendQueueSize <= 0 {
		errs = append(errs, errors.New("WS_SEND_QUEUE_SIZE must be positive"))
	}
	if c.Persist.Workers <= 0 {
		errs = append(errs, errors.New("RELAY_PERSIST_WORKERS must be positive"))
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		errs = append(errs, errors.New("WS_PING_INTERVAL must be shorter than WS_PONG_WAIT"))
	}
	return errors.Join(errs...)
}
