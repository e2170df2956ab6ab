package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"collab-backend/internal/cache"
	"collab-backend/internal/database"
)

const usage = `Delete rooms that have not been touched for a while.

Usage:
  prune_rooms [--days=<n>] [--dry-run]
  prune_rooms -h | --help

Options:
  --days=<n>   Inactivity window in days [default: 30].
  --dry-run    Only list the rooms that would be deleted.
  -h --help    Show this screen.`

// pruner 오래된 룸 삭제 (database.RoomStore)
type pruner interface {
	PruneInactive(ctx context.Context, cutoff time.Time, dryRun bool) ([]string, error)
}

// evicter 룸 캐시 제거 (cache.SnapshotStore)
type evicter interface {
	Evict(ctx context.Context, roomID string) error
}

// prune 룸 삭제 후 캐시에 남은 스냅샷도 비운다. snapshots가 nil이면 DB만 정리
func prune(ctx context.Context, rooms pruner, snapshots evicter, cutoff time.Time, dryRun bool) ([]string, error) {
	ids, err := rooms.PruneInactive(ctx, cutoff, dryRun)
	if err != nil {
		return nil, err
	}
	if dryRun || snapshots == nil {
		return ids, nil
	}
	for _, id := range ids {
		if err := snapshots.Evict(ctx, id); err != nil {
			return ids, fmt.Errorf("evict cached room %s: %w", id, err)
		}
	}
	return ids, nil
}

func main() {
	opts, err := docopt.ParseDoc(usage)
	if err != nil {
		log.Fatal(err)
	}
	days, err := opts.Int("--days")
	if err != nil || days <= 0 {
		log.Fatalf("invalid --days: %v", opts["--days"])
	}
	dryRun, _ := opts.Bool("--dry-run")

	// .env 파일 로드 (없어도 에러 무시)
	_ = godotenv.Load()

	var cfg database.Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "DB_"}); err != nil {
		log.Fatal("Failed to read database config:", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer func() { _ = database.Close(db) }()

	fmt.Println("✅ Connected to database")

	var redisCfg cache.Config
	if err := env.ParseWithOptions(&redisCfg, env.Options{Prefix: "REDIS_"}); err != nil {
		log.Fatal("Failed to read redis config:", err)
	}
	var snapshots evicter
	if redisCfg.Enabled {
		rdb, err := cache.NewRedisClient(redisCfg, zap.NewNop())
		if err != nil {
			log.Fatal("Failed to connect to redis:", err)
		}
		defer func() { _ = rdb.Close() }()
		snapshots = cache.NewSnapshotStore(rdb.Client(), redisCfg.SnapshotTTL)
		fmt.Println("✅ Connected to redis")
	}
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -days)
	ids, err := prune(ctx, database.NewRoomStore(db), snapshots, cutoff, dryRun)
	if err != nil {
		log.Fatal("Failed to prune rooms:", err)
	}

	if len(ids) == 0 {
		fmt.Printf("📭 No rooms inactive since %s\n", cutoff.Format(time.DateOnly))
		return
	}

	verb := "Deleted"
	if dryRun {
		verb = "Would delete"
	}
	fmt.Printf("🧹 %s %d room(s) inactive since %s:\n", verb, len(ids), cutoff.Format(time.DateOnly))
	for _, id := range ids {
		fmt.Printf("  - %s\n", id)
	}
}
