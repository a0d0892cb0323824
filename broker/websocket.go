package broker

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mochi-mqtt/server/v2/listeners"
)

// websocketListener accepts MQTT over websockets on any path. The socket is
// bound in Init so a busy address fails AddListener like the TCP listener does.
type websocketListener struct {
	sync.Mutex
	id        string
	address   string
	listener  net.Listener
	server    *http.Server
	log       *slog.Logger
	establish listeners.EstablishFn
	upgrader  *websocket.Upgrader
}

func newWebsocketListener(id string, address string) *websocketListener {
	return &websocketListener{
		id:      id,
		address: address,
		upgrader: &websocket.Upgrader{
			Subprotocols: []string{"mqtt"},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (l *websocketListener) ID() string {
	return l.id
}

// Address returns the bound address once Init has run.
func (l *websocketListener) Address() string {
	l.Lock()
	defer l.Unlock()
	if l.listener != nil {
		return l.listener.Addr().String()
	}
	return l.address
}

func (l *websocketListener) Protocol() string {
	return "ws"
}

func (l *websocketListener) Init(log *slog.Logger) error {
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return err
	}

	l.Lock()
	defer l.Unlock()
	l.log = log
	l.listener = ln
	l.server = &http.Server{
		Handler:           http.HandlerFunc(l.handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (l *websocketListener) handler(w http.ResponseWriter, r *http.Request) {
	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close()

	if err := l.establish(l.id, &websocketConn{Conn: c}); err != nil && l.log != nil {
		l.log.Warn("websocket client ended", "error", err)
	}
}

// Serve blocks on the pre-bound socket until Close.
func (l *websocketListener) Serve(establish listeners.EstablishFn) {
	l.Lock()
	l.establish = establish
	server, ln := l.server, l.listener
	l.Unlock()
	if server == nil {
		return
	}

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && l.log != nil {
		l.log.Error("websocket listener stopped", "error", err)
	}
}

func (l *websocketListener) Close(closeClients listeners.CloseFn) {
	l.Lock()
	server, ln := l.server, l.listener
	l.Unlock()

	if server != nil {
		_ = server.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
	closeClients(l.id)
}
