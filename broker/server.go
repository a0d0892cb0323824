package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	tcpListenerID       = "t1"
	websocketListenerID = "ws1"
)

// Server is an embedded broker for local runs and tests. It accepts every
// client and keeps nothing beyond the protocol's in-memory session state.
type Server struct {
	*mqtt.Server
	log      *zap.Logger
	stopOnce sync.Once
	stopErr  error
}

func NewServer(cfg ServerConfig, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	server := &Server{
		Server: mqtt.New(&mqtt.Options{
			InlineClient: true,
			Logger:       slog.New(slog.DiscardHandler),
		}),
		log: log,
	}

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("broker: hook: %w", err)
	}
	if err := server.AddHook(&sessionLogHook{log: log}, nil); err != nil {
		return nil, fmt.Errorf("broker: hook: %w", err)
	}

	var ls []listeners.Listener
	if cfg.TCPAddress != "" {
		ls = append(ls, listeners.NewTCP(listeners.Config{
			ID:      tcpListenerID,
			Address: cfg.TCPAddress,
		}))
	}
	if cfg.WebsocketAddress != "" {
		ls = append(ls, newWebsocketListener(websocketListenerID, cfg.WebsocketAddress))
	}
	if err := server.appendListeners(ls...); err != nil {
		_ = server.Server.Close()
		return nil, err
	}

	return server, nil
}

func (s *Server) appendListeners(ls ...listeners.Listener) error {
	var err error
	for _, l := range ls {
		if lerr := s.Server.AddListener(l); lerr != nil {
			err = multierr.Append(err, fmt.Errorf("broker: listener %s: %w", l.ID(), lerr))
			continue
		}
		s.log.Info("listening", zap.String("id", l.ID()), zap.String("address", l.Address()))
	}
	return err
}

func (s *Server) Start(context.Context) error {
	return s.Server.Serve()
}

// Stop closes listeners and connected clients. It is safe to call more than once.
func (s *Server) Stop(context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.Server.Close()
	})
	return s.stopErr
}

func (s *Server) Publish(topic string, payload []byte, retain bool, qos byte) error {
	return s.Server.Publish(topic, payload, retain, qos)
}

func (s *Server) PublishString(topic string, payload string, retain bool, qos byte) error {
	return s.Publish(topic, []byte(payload), retain, qos)
}

type sessionLogHook struct {
	mqtt.HookBase
	log *zap.Logger
}

func (h *sessionLogHook) ID() string {
	return "reminder-session-log"
}

func (h *sessionLogHook) Provides(b byte) bool {
	return b == mqtt.OnConnect || b == mqtt.OnDisconnect || b == mqtt.OnSubscribed
}

func (h *sessionLogHook) OnConnect(cl *mqtt.Client, _ packets.Packet) error {
	h.log.Debug("client connected", zap.String("client_id", cl.ID), zap.String("remote", cl.Net.Remote))
	return nil
}

func (h *sessionLogHook) OnDisconnect(cl *mqtt.Client, err error, _ bool) {
	h.log.Debug("client disconnected", zap.String("client_id", cl.ID), zap.Error(err))
}

func (h *sessionLogHook) OnSubscribed(cl *mqtt.Client, pk packets.Packet, _ []byte) {
	for _, sub := range pk.Filters {
		h.log.Debug("client subscribed", zap.String("client_id", cl.ID), zap.String("filter", sub.Filter))
	}
}
