package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"collab-backend/internal/auth"
	"collab-backend/internal/client"
	"collab-backend/internal/event"
	"collab-backend/internal/logging"
	"collab-backend/internal/mesh"
	"collab-backend/internal/presence"
)

const SimClientVersion = "0.1.0"

func main() {
	usage := `Headless room participant.

Usage:
    simclient token --secret=<secret> --user=<user_id> [--name=<name>]
    simclient join --room=<room_id> (--token=<jwt> | --secret=<secret>)
        [--url=<url>]
        [--user=<user_id>]
        [--name=<name>]
        [--chat=<text>]
        [--draw=<count>]
        [--duration=<duration>]
        [--media]
        [--debug]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --url=<url>              Relay websocket url [default: ws://localhost:8080/ws].
    --secret=<secret>        JWT_SECRET of the relay, used to mint a token.
    --token=<jwt>            Access token issued by the relay.
    --user=<user_id>         User id for a minted token [default: sim].
    --name=<name>            Display name [default: simclient].
    --room=<room_id>         Room to join.
    --chat=<text>            Send one chat message after joining.
    --draw=<count>           Upsert this many random shapes [default: 0].
    --duration=<duration>    Stay for this long, 0 means until interrupted [default: 0s].
    --media                  Open WebRTC audio links to the other participants.
    --debug                  Development logging.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], SimClientVersion)
	if err != nil {
		panic(err)
	}

	if token_, _ := opts.Bool("token"); token_ {
		printToken(opts)
	} else if join_, _ := opts.Bool("join"); join_ {
		if err := join(opts); err != nil {
			log.Fatal(err)
		}
	}
}

func mintToken(opts docopt.Opts) (string, error) {
	secret, _ := opts.String("--secret")
	userID, _ := opts.String("--user")
	name, _ := opts.String("--name")
	return auth.NewJWTManager(secret, 24*time.Hour).GenerateAccessToken(userID, name, "")
}

func printToken(opts docopt.Opts) {
	token, err := mintToken(opts)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(token)
}

func join(opts docopt.Opts) error {
	debug, _ := opts.Bool("--debug")
	logger, err := logging.New("info", debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	token, _ := opts.String("--token")
	if token == "" {
		if token, err = mintToken(opts); err != nil {
			return err
		}
	}
	url, _ := opts.String("--url")
	roomID, _ := opts.String("--room")
	draw, err := opts.Int("--draw")
	if err != nil {
		return fmt.Errorf("--draw: %w", err)
	}
	durationStr, _ := opts.String("--duration")
	duration, err := time.ParseDuration(durationStr)
	if err != nil {
		return fmt.Errorf("--duration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	conn, err := client.Dial(ctx, url, token)
	if err != nil {
		return err
	}

	mirrorOpts := client.Options{
		Presence:  presence.DefaultConfig(),
		Throttles: presence.DefaultThrottles(),
		Log:       logger,
	}
	if media, _ := opts.Bool("--media"); media {
		mirrorOpts.MeshFactory = mesh.NewPionFactory(mesh.PionConfig{})
	}

	m := client.NewMirror(roomID, conn, mirrorOpts)
	m.OnEvent(func(env *event.Envelope) {
		logger.Info("event",
			zap.String("type", string(env.Type)),
			zap.String("from", env.From),
			zap.Uint64("seq", env.Seq))
	})

	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(ctx, conn) }()

	if err := m.Join(); err != nil {
		return err
	}
	select {
	case <-m.Joined():
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return nil
	}

	snap := m.Snapshot()
	logger.Info("joined",
		zap.String("room", roomID),
		zap.String("session", snap.You.SessionID),
		zap.Int("objects", len(snap.Objects)),
		zap.Int("participants", len(snap.Participants)))

	if text, _ := opts.String("--chat"); text != "" {
		if err := m.SendChat(text); err != nil {
			logger.Warn("chat failed", zap.Error(err))
		}
	}
	for i := 0; i < draw; i++ {
		obj, err := event.NewObject(uuid.NewString(), event.KindShape, map[string]any{
			"x": rand.Float64() * 800,
			"y": rand.Float64() * 600,
			"w": 20 + rand.Float64()*100,
			"h": 20 + rand.Float64()*100,
		})
		if err == nil {
			err = m.UpsertObject(obj)
		}
		if err != nil {
			logger.Warn("draw failed", zap.Error(err))
		}
	}

	// 커서를 원 궤도로 움직인다 (스로틀링은 Mirror가 한다)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ticker.C:
			t := time.Since(start).Seconds()
			_, _ = m.MoveCursor(event.Point{X: 400 + 200*math.Cos(t), Y: 300 + 200*math.Sin(t)})
		case err := <-runErr:
			return err
		case <-ctx.Done():
			_ = m.Leave()
			err := <-runErr
			logger.Info("left", zap.String("room", roomID), zap.Int("links", len(m.Links())))
			return err
		}
	}
}
