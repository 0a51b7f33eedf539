package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/outlier/internal/api/middleware"
	"github.com/mcoot/outlier/internal/api/response"
	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/storage"
	"github.com/mcoot/outlier/internal/web/stream"
)

const closeGracePeriod = time.Second

// Subscribe streams the caller's view of the session over WebSocket and
// calls observer for every snapshot, in order, from a single goroutine.
// If the connection drops, ended gets the read error. The returned
// function closes the stream, suppresses ended, and may be called from
// inside observer.
func (c *Client) Subscribe(ctx context.Context, caller model.Credentials, observer storage.Observer, ended func(error)) (func(), error) {
	wsURL, err := c.websocketURL(sessionPath(caller.SessionID, "/ws"))
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if caller.Token != "" {
		header.Set(middleware.TokenHeader, string(caller.Token))
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, model.ErrSessionNotFound
		}
		return nil, model.Transient(fmt.Errorf("dial session stream: %w", err))
	}

	var closing atomic.Bool
	go func() {
		err := readSnapshots(conn, observer)
		if !closing.Load() && ended != nil {
			ended(err)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			closing.Store(true)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGracePeriod))
			_ = conn.Close()
		})
	}, nil
}

// readSnapshots decodes frames until the connection closes and returns
// the read error. Pings are answered by the default ping handler while
// reading.
func readSnapshots(conn *websocket.Conn, observer storage.Observer) error {
	for {
		var msg stream.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Type != model.EventSession {
			continue
		}
		var view response.Session
		if err := json.Unmarshal(msg.Session, &view); err != nil {
			continue
		}
		observer(view.ToModel())
	}
}

func (c *Client) websocketURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}
