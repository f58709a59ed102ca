package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"secure_chat/internal/model"
	"secure_chat/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// WSTransport is the client end of the event channel.
type WSTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func DialEvents(ctx context.Context, url string) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &WSTransport{conn: conn}, nil
}

func (t *WSTransport) Send(event string, payload any) error {
	frame, err := model.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

// Listen blocks, passing each frame to handle until the connection drops.
func (t *WSTransport) Listen(ctx context.Context, handle func(context.Context, *model.Envelope)) error {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error("unmarshal event failed", zap.Error(err))
			continue
		}
		handle(ctx, &env)
	}
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	t.mu.Unlock()
	return t.conn.Close()
}
