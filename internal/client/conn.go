package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collab-backend/internal/event"
)

var ErrConnClosed = errors.New("connection closed")

// Conn relay 웹소켓 연결 (gorilla/websocket)
//
// Send는 여러 goroutine에서 호출해도 된다. Read는 한 goroutine만 호출한다.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// Dial connects to the relay at url ("ws://host/ws") with a bearer token.
func Dial(ctx context.Context, url, token string) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   16384,
		WriteBufferSize:  16384,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Conn{ws: ws, writeTimeout: 5 * time.Second}, nil
}

// Send 이벤트 전송
func (c *Conn) Send(env *event.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// Read 다음 이벤트 수신 (blocking)
func (c *Conn) Read() (*event.Envelope, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		env, err := event.Decode(data)
		if err != nil {
			// 새 서버가 보낸 모르는 이벤트는 건너뛴다
			if errors.Is(err, event.ErrUnknownType) {
				continue
			}
			return nil, err
		}
		return env, nil
	}
}

// Close 정상 종료 프레임을 보내고 연결을 닫는다 (idempotent)
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
