package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"collab-backend/internal/auth"
	"collab-backend/internal/config"
	"collab-backend/internal/event"
	"collab-backend/internal/relay"
	"collab-backend/internal/session"
)

// =============================================================================
// Sync WebSocket - 룸 동기화 엔드포인트
// =============================================================================

// Heartbeater 룸 참가자 TTL 연장 (Redis roster)
type Heartbeater interface {
	Heartbeat(ctx context.Context, roomID, sessionID string) error
}

// SyncHandler 연결마다 reader(현재 goroutine) + writer goroutine을 둔다
type SyncHandler struct {
	hub    *relay.Hub
	beats  Heartbeater
	cfg    config.WebSocketConfig
	log    *zap.Logger
	joinTO time.Duration
}

// NewSyncHandler SyncHandler 생성. beats는 nil 가능
func NewSyncHandler(hub *relay.Hub, beats Heartbeater, cfg config.WebSocketConfig, log *zap.Logger) *SyncHandler {
	return &SyncHandler{
		hub:    hub,
		beats:  beats,
		cfg:    cfg,
		log:    log,
		joinTO: 5 * time.Second,
	}
}

// HandleWebSocket WebSocket 연결 처리
func (h *SyncHandler) HandleWebSocket(c *websocket.Conn) {
	claims, ok := c.Locals(auth.LocalsClaims).(*auth.Claims)
	if !ok {
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"code":"unauthorized","message":"invalid session"}}`))
		_ = c.Close()
		return
	}

	sess := session.New(claims.UserID, claims.Name, claims.Avatar)
	peer := relay.NewPeer(sess.Participant(), h.cfg.SendQueueSize)
	log := h.log.With(zap.String("session", sess.ID), zap.String("user", sess.UserID))
	log.Info("[Sync] connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(c, sess, peer, log)
	}()

	defer func() {
		if r := recover(); r != nil {
			log.Error("[Sync] panic in read loop", zap.Any("panic", r))
		}
		// 비정상 종료 포함, 참여한 모든 룸에 퇴장 알림
		h.hub.Disconnect(peer)
		sess.Close()
		_ = c.Close()
		wg.Wait()

		st := sess.GetStats()
		log.Info("[Sync] disconnected",
			zap.Uint64("in", st.FramesIn),
			zap.Uint64("out", st.FramesOut),
			zap.Uint64("rejected", st.Rejected),
			zap.Uint64("dropped", peer.Dropped()),
			zap.Bool("evicted", peer.Evicted()),
			zap.Duration("duration", st.Duration))
	}()

	h.readLoop(c, sess, peer, log)
}

func (h *SyncHandler) readLoop(c *websocket.Conn, sess *session.Session, peer *relay.Peer, log *zap.Logger) {
	if h.cfg.MaxMessageSize > 0 {
		c.SetReadLimit(h.cfg.MaxMessageSize)
	}
	_ = c.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("[Sync] read error", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = c.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		env, err := event.DecodeClient(data)
		if err != nil {
			sess.RecordIn(true)
			log.Debug("[Sync] frame rejected", zap.Error(err))
			peer.SendError("", "bad_event", err.Error())
			continue
		}
		sess.RecordIn(false)
		h.dispatch(sess, peer, env, log)
	}
}

func (h *SyncHandler) dispatch(sess *session.Session, peer *relay.Peer, env *event.Envelope, log *zap.Logger) {
	switch env.Type {
	case event.TypeJoin:
		ctx, cancel := context.WithTimeout(sess.Context(), h.joinTO)
		defer cancel()
		if _, err := h.hub.Join(ctx, env.RoomID, peer); err != nil {
			log.Warn("[Sync] join failed", zap.String("room", env.RoomID), zap.Error(err))
			peer.SendError(env.RoomID, "join_failed", err.Error())
			return
		}
		sess.SetState(session.StateActive)

	case event.TypeLeave:
		h.hub.Leave(env.RoomID, peer)
		if len(peer.Rooms()) == 0 {
			sess.SetState(session.StateAwaitingJoin)
		}

	default:
		if err := h.hub.Publish(env.RoomID, peer, env); err != nil {
			code := "publish_failed"
			if errors.Is(err, relay.ErrNotMember) {
				code = "not_member"
			}
			peer.SendError(env.RoomID, code, err.Error())
		}
	}
}

func (h *SyncHandler) writeLoop(c *websocket.Conn, sess *session.Session, peer *relay.Peer, log *zap.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-peer.Outbound():
			_ = c.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("[Sync] write failed", zap.Error(err))
				peer.Close()
				_ = c.Close()
				return
			}
			sess.RecordOut()

		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				peer.Close()
				_ = c.Close()
				return
			}
			h.heartbeat(peer, log)

		case <-peer.Done():
			// 송신 큐 초과로 쫓겨났거나 연결 종료
			if peer.Evicted() {
				log.Warn("[Sync] evicted, closing connection")
			}
			_ = c.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "slow consumer"),
				time.Now().Add(time.Second))
			_ = c.Close()
			return

		case <-sess.Context().Done():
			return
		}
	}
}

func (h *SyncHandler) heartbeat(peer *relay.Peer, log *zap.Logger) {
	if h.beats == nil {
		return
	}
	rooms := peer.Rooms()
	if len(rooms) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for _, roomID := range rooms {
			if err := h.beats.Heartbeat(ctx, roomID, peer.ID()); err != nil {
				log.Debug("[Sync] roster heartbeat failed", zap.String("room", roomID), zap.Error(err))
			}
		}
	}()
}
