package voicestream

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketDialer connects to a live transcription endpoint. The protocol is
// a JSON handshake carrying StreamSettings, then binary PCM frames upstream
// and JSON ServerMessages downstream.
type WebSocketDialer struct {
	cfg    EndpointConfig
	tokens *TokenSource
	log    *Logger
}

// NewWebSocketDialer builds a dialer for the configured endpoint. A token
// source is attached only when an API key is present; keyless dials go out
// unauthenticated and the server decides.
func NewWebSocketDialer(cfg EndpointConfig, log *Logger) *WebSocketDialer {
	var tokens *TokenSource
	if cfg.APIKey != "" {
		tokens = NewTokenSource(cfg.APIKey, cfg.TokenTTL(), cfg.TokenRefreshBuffer())
	}
	return &WebSocketDialer{
		cfg:    cfg,
		tokens: tokens,
		log:    log.WithComponent("ws_dialer"),
	}
}

// Dial opens the websocket, sends the handshake and returns the live stream.
func (d *WebSocketDialer) Dial(ctx context.Context, settings StreamSettings) (EndpointConn, error) {
	header := make(http.Header)
	if d.tokens != nil {
		token, err := d.tokens.Token()
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.cfg.URL, err)
	}

	handshake := struct {
		Type     string         `json:"type"`
		Settings StreamSettings `json:"settings"`
	}{Type: "start", Settings: settings}

	if err := conn.WriteJSON(&handshake); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake write: %w", err)
	}

	d.log.WithFields(map[string]interface{}{
		"endpoint": d.cfg.URL,
		"model":    settings.Model,
	}).Debug("Stream opened")

	return &wsConn{conn: conn}, nil
}

// wsConn adapts a gorilla connection to EndpointConn. The write mutex covers
// the race between SendAudio and the close frame.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  bool
}

func (c *wsConn) SendAudio(pcm []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (c *wsConn) Receive() (*ServerMessage, error) {
	var msg ServerMessage
	if err := c.conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	// Best-effort close frame; the transport teardown matters more.
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
