// conn.go - Relay connection abstraction.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one persistent duplex connection to a relay.  WriteFrame is safe
// for concurrent use; ReadFrame is not and belongs to a single reader.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// Dialer opens relay connections.  The production implementation speaks
// WebSocket; tests substitute in-memory fakes.
type Dialer interface {
	DialContext(ctx context.Context, relayURL string) (Conn, error)
}

const defaultHandshakeTimeout = 30 * time.Second

// WebSocketDialer dials relays over WebSocket.
type WebSocketDialer struct {
	// HandshakeTimeout bounds the dial and WebSocket handshake.  Zero
	// means the default of 30 seconds.
	HandshakeTimeout time.Duration
}

// DialContext implements Dialer.
func (d *WebSocketDialer) DialContext(ctx context.Context, relayURL string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}
	wsDialer := &websocket.Dialer{HandshakeTimeout: timeout}
	c, _, err := wsDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	writeLock sync.Mutex
	c         *websocket.Conn
}

func (w *wsConn) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := w.c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (w *wsConn) WriteFrame(data []byte) error {
	w.writeLock.Lock()
	defer w.writeLock.Unlock()
	return w.c.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	return w.c.Close()
}
