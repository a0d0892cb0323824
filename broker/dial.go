package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

func normalizeEndpoint(endpoint string) string {
	e := strings.TrimSpace(endpoint)
	for _, scheme := range []string{"mqtt://", "tcp://", "mqtts://", "ssl://", "tls://"} {
		e = strings.TrimPrefix(e, scheme)
	}
	return e
}

func isTLSEndpoint(endpoint string) bool {
	e := strings.TrimSpace(endpoint)
	return strings.HasPrefix(e, "mqtts://") ||
		strings.HasPrefix(e, "ssl://") ||
		strings.HasPrefix(e, "tls://")
}

func isWebsocketEndpoint(endpoint string) bool {
	e := strings.TrimSpace(endpoint)
	return strings.HasPrefix(e, "ws://") || strings.HasPrefix(e, "wss://")
}

func dialConn(ctx context.Context, endpoint string, timeout time.Duration, tlsCfg *tls.Config) (net.Conn, error) {
	e := strings.TrimSpace(endpoint)
	if e == "" {
		return nil, ErrEndpointRequired
	}
	if isWebsocketEndpoint(e) {
		dialer := websocket.Dialer{
			HandshakeTimeout: timeout,
			Subprotocols:     []string{"mqtt"},
			TLSClientConfig:  tlsCfg,
		}
		conn, _, err := dialer.DialContext(ctx, e, http.Header{})
		if err != nil {
			return nil, err
		}
		return &websocketConn{Conn: conn}, nil
	}

	addr := normalizeEndpoint(e)
	if isTLSEndpoint(e) {
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: timeout},
			Config:    tlsCfg,
		}
		return dialer.DialContext(ctx, "tcp", addr)
	}

	dialer := &net.Dialer{Timeout: timeout}
	return dialer.DialContext(ctx, "tcp", addr)
}

// websocketConn adapts a binary websocket stream to net.Conn.
type websocketConn struct {
	Conn *websocket.Conn
	r    io.Reader
}

func (ws *websocketConn) Read(p []byte) (int, error) {
	if ws.r == nil {
		op, r, err := ws.Conn.NextReader()
		if err != nil {
			return 0, err
		}
		if op != websocket.BinaryMessage {
			return 0, fmt.Errorf("broker: websocket message type %d is not binary", op)
		}
		ws.r = r
	}

	n, err := ws.r.Read(p)
	if err != nil {
		ws.r = nil
		if errors.Is(err, io.EOF) {
			err = nil
		}
	}
	return n, err
}

func (ws *websocketConn) Write(p []byte) (int, error) {
	if err := ws.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (ws *websocketConn) Close() error {
	return ws.Conn.Close()
}

func (ws *websocketConn) LocalAddr() net.Addr {
	return ws.Conn.LocalAddr()
}

func (ws *websocketConn) RemoteAddr() net.Addr {
	return ws.Conn.RemoteAddr()
}

func (ws *websocketConn) SetDeadline(t time.Time) error {
	if err := ws.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return ws.Conn.SetWriteDeadline(t)
}

func (ws *websocketConn) SetReadDeadline(t time.Time) error {
	return ws.Conn.SetReadDeadline(t)
}

func (ws *websocketConn) SetWriteDeadline(t time.Time) error {
	return ws.Conn.SetWriteDeadline(t)
}
