package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"collab-backend/internal/event"
	"collab-backend/internal/persist"
)

var ErrFolderClosed = errors.New("persistence folder closed")

// FolderConfig 비동기 영속화 설정
type FolderConfig struct {
	Workers         int           `env:"PERSIST_WORKERS" envDefault:"4"`
	QueueSize       int           `env:"PERSIST_QUEUE_SIZE" envDefault:"1024"`
	WriteTimeout    time.Duration `env:"PERSIST_WRITE_TIMEOUT" envDefault:"2s"`
	Attempts        uint          `env:"PERSIST_ATTEMPTS" envDefault:"4"`
	InitialInterval time.Duration `env:"PERSIST_RETRY_INTERVAL" envDefault:"100ms"`
}

// Folder 라이브 브로드캐스트와 분리된 비동기 영속화
//
// 같은 룸의 쓰기는 항상 같은 샤드로 가서 도착 순서대로 적용된다.
// 큐가 가득 차면 쓰기를 버리고 로그만 남긴다. 라이브 상태는 롤백하지 않는다.
type Folder struct {
	store persist.Store
	cfg   FolderConfig
	log   *zap.Logger

	mu     sync.RWMutex
	shards []chan *event.Envelope
	closed bool
	g      *errgroup.Group

	written atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

func NewFolder(store persist.Store, cfg FolderConfig, log *zap.Logger) *Folder {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}

	f := &Folder{
		store:  store,
		cfg:    cfg,
		log:    log,
		shards: make([]chan *event.Envelope, cfg.Workers),
	}
	for i := range f.shards {
		f.shards[i] = make(chan *event.Envelope, cfg.QueueSize)
	}
	return f
}

// Start launches one worker per shard. Workers exit after Close drains the queues.
func (f *Folder) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range f.shards {
		shard, queue := i, ch
		g.Go(func() error {
			for env := range queue {
				f.write(gctx, shard, env)
			}
			return nil
		})
	}
	f.mu.Lock()
	f.g = g
	f.mu.Unlock()
	f.log.Info("[Folder] started", zap.Int("workers", len(f.shards)))
}

// Submit queues a durable event without blocking.
func (f *Folder) Submit(env *event.Envelope) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrFolderClosed
	}

	queue := f.shards[xxhash.Sum64String(env.RoomID)%uint64(len(f.shards))]
	select {
	case queue <- env:
		return nil
	default:
		f.dropped.Inc()
		f.log.Error("[Folder] queue full, write dropped",
			zap.String("room", env.RoomID),
			zap.String("type", string(env.Type)),
			zap.Uint64("seq", env.Seq))
		return errors.New("persistence queue full")
	}
}

// Close stops accepting writes and waits for the queues to drain.
func (f *Folder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for _, ch := range f.shards {
		close(ch)
	}
	g := f.g
	f.mu.Unlock()

	if g == nil {
		return nil
	}
	err := g.Wait()
	f.log.Info("[Folder] stopped",
		zap.Uint64("written", f.written.Load()),
		zap.Uint64("failed", f.failed.Load()),
		zap.Uint64("dropped", f.dropped.Load()))
	return err
}

// FolderStats 누적 카운터
type FolderStats struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

func (f *Folder) Stats() FolderStats {
	return FolderStats{Written: f.written.Load(), Failed: f.failed.Load(), Dropped: f.dropped.Load()}
}

func (f *Folder) write(ctx context.Context, shard int, env *event.Envelope) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.InitialInterval
	b.MaxInterval = f.cfg.WriteTimeout

	op := func() (struct{}, error) {
		wctx, cancel := context.WithTimeout(ctx, f.cfg.WriteTimeout)
		defer cancel()
		err := persist.Apply(wctx, f.store, env)
		if errors.Is(err, persist.ErrBadEvent) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(f.cfg.Attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.log.Warn("[Folder] write failed, retrying",
				zap.Int("shard", shard),
				zap.String("room", env.RoomID),
				zap.Duration("next", next),
				zap.Error(err))
		}))
	if err != nil {
		f.failed.Inc()
		f.log.Error("[Folder] write failed",
			zap.Int("shard", shard),
			zap.String("room", env.RoomID),
			zap.String("type", string(env.Type)),
			zap.Uint64("seq", env.Seq),
			zap.Error(err))
		return
	}
	f.written.Inc()
}
