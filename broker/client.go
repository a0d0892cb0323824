package broker

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mochi-mqtt/server/v2/packets"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type ClientConfig struct {
	Endpoint       string
	ClientID       string
	CleanSession   bool
	Keepalive      time.Duration
	ConnectTimeout time.Duration
	InboxSize      int
	TLSConfig      *tls.Config
}

// ConnectResult is the broker's answer to CONNECT.
type ConnectResult struct {
	Code           byte
	SessionPresent bool
}

func (r ConnectResult) Accepted() bool {
	return r.Code == 0
}

var _ Session = (*Client)(nil)
var _ Publisher = (*Client)(nil)
var _ Subscriber = (*Client)(nil)

// Client is a minimal MQTT 3.1.1 client. A background reader queues inbound
// PUBLISH packets; they are handed to handlers only from Service, on the
// caller's goroutine. Dropped connections are reported, never re-established.
type Client struct {
	cfg      ClientConfig
	log      *zap.Logger
	packetID atomic.Uint32

	mu       sync.RWMutex
	conn     net.Conn
	inbox    chan packets.Packet
	stop     chan struct{}
	done     chan struct{}
	lost     error
	handlers map[string]MessageHandler
	acks     map[uint16]chan packets.Packet

	writeMu sync.Mutex
}

func NewClient(cfg ClientConfig, log *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, ErrEndpointRequired
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	cfg.Keepalive = keepaliveSeconds(cfg.Keepalive)
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		cfg:      cfg,
		log:      log.With(zap.String("client_id", cfg.ClientID)),
		handlers: make(map[string]MessageHandler),
		acks:     make(map[uint16]chan packets.Packet),
	}, nil
}

// keepaliveSeconds rounds d to the whole seconds CONNECT can carry. Zero or
// negative disables keepalive; anything positive is at least one second.
func keepaliveSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	d = d.Round(time.Second)
	if d < time.Second {
		return time.Second
	}
	if limit := time.Duration(math.MaxUint16) * time.Second; d > limit {
		return limit
	}
	return d
}

func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

// Connect dials the broker and performs the CONNECT/CONNACK handshake. A
// refused handshake returns the result together with a *ConnectError.
func (c *Client) Connect(ctx context.Context) (ConnectResult, error) {
	c.mu.RLock()
	connected := c.conn != nil
	c.mu.RUnlock()
	if connected {
		return ConnectResult{}, ErrAlreadyConnected
	}

	conn, err := dialConn(ctx, c.cfg.Endpoint, c.cfg.ConnectTimeout, c.cfg.TLSConfig)
	if err != nil {
		return ConnectResult{}, fmt.Errorf("broker: dial %s: %w", c.cfg.Endpoint, err)
	}

	reader := bufio.NewReader(conn)
	if err := c.writePacket(conn, packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Connect},
		Connect: packets.ConnectParams{
			ProtocolName:     []byte{'M', 'Q', 'T', 'T'},
			Clean:            c.cfg.CleanSession,
			ClientIdentifier: c.cfg.ClientID,
			Keepalive:        uint16(c.cfg.Keepalive / time.Second),
		},
	}); err != nil {
		_ = conn.Close()
		return ConnectResult{}, fmt.Errorf("broker: send connect: %w", err)
	}

	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		_ = conn.Close()
		return ConnectResult{}, err
	}
	connack, err := readPacket(reader)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		_ = conn.Close()
		return ConnectResult{}, fmt.Errorf("broker: read connack: %w", err)
	}
	if connack.FixedHeader.Type != packets.Connack {
		_ = conn.Close()
		return ConnectResult{}, fmt.Errorf("%w: expected connack, got type=%d", ErrUnexpectedPacket, connack.FixedHeader.Type)
	}

	result := ConnectResult{Code: connack.ReasonCode, SessionPresent: connack.SessionPresent}
	if !result.Accepted() {
		_ = conn.Close()
		return result, &ConnectError{Code: result.Code}
	}

	inbox := make(chan packets.Packet, c.cfg.InboxSize)
	stop := make(chan struct{})
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.inbox = inbox
	c.stop = stop
	c.done = done
	c.lost = nil
	c.mu.Unlock()

	go c.readLoop(conn, reader, inbox, stop, done)
	go c.keepaliveLoop(conn, done)

	c.log.Debug("connected", zap.String("endpoint", c.cfg.Endpoint), zap.Bool("session_present", result.SessionPresent))
	return result, nil
}

// Disconnect sends DISCONNECT and closes the socket. Calling it on a client
// that is not connected is a no-op.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn, stop, done := c.conn, c.stop, c.done
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(stop)

	err := c.writePacket(conn, packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Disconnect},
	})
	if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, cerr)
	}

	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
	}

	c.log.Debug("disconnected")
	return err
}

func (c *Client) Publish(topic string, payload []byte, retain bool, qos byte) error {
	if !ValidTopicName(topic) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if qos > QoS1 {
		return ErrUnsupportedQoS
	}
	conn, err := c.connectedConn()
	if err != nil {
		return err
	}

	pk := packets.Packet{
		FixedHeader: packets.FixedHeader{
			Type:   packets.Publish,
			Qos:    qos,
			Retain: retain,
		},
		TopicName: topic,
		Payload:   payload,
	}
	if qos > 0 {
		pk.PacketID = c.nextPacketID()
	}
	return c.writePacket(conn, pk)
}

func (c *Client) PublishString(topic string, payload string, retain bool, qos byte) error {
	return c.Publish(topic, []byte(payload), retain, qos)
}

// Subscribe registers handler for filter and waits for the SUBACK.
func (c *Client) Subscribe(ctx context.Context, filter string, qos byte, handler MessageHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	if !ValidFilter(filter) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, filter)
	}
	if qos > QoS1 {
		return ErrUnsupportedQoS
	}
	conn, err := c.connectedConn()
	if err != nil {
		return err
	}

	id := c.nextPacketID()
	ack := make(chan packets.Packet, 1)

	c.mu.Lock()
	c.handlers[filter] = handler
	c.acks[id] = ack
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.acks, id)
		c.mu.Unlock()
	}()

	if err := c.writePacket(conn, packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Subscribe, Qos: 1},
		PacketID:    id,
		Filters: packets.Subscriptions{
			{
				Filter: filter,
				Qos:    qos,
			},
		},
	}); err != nil {
		c.removeHandler(filter)
		return err
	}

	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case pk, ok := <-ack:
		if !ok {
			c.removeHandler(filter)
			return c.lostErr()
		}
		if len(pk.ReasonCodes) == 0 || pk.ReasonCodes[0] >= 0x80 {
			c.removeHandler(filter)
			return fmt.Errorf("%w: %q", ErrSubscriptionRejected, filter)
		}
		c.log.Debug("subscribed", zap.String("filter", filter), zap.Uint8("granted_qos", pk.ReasonCodes[0]))
		return nil
	case <-timer.C:
		c.removeHandler(filter)
		return fmt.Errorf("%w: suback for %q", ErrAckTimeout, filter)
	case <-ctx.Done():
		c.removeHandler(filter)
		return ctx.Err()
	}
}

// Unsubscribe drops the handler for filter and tells the broker without
// waiting for the UNSUBACK.
func (c *Client) Unsubscribe(filter string) error {
	if !c.removeHandler(filter) {
		return nil
	}
	conn, err := c.connectedConn()
	if err != nil {
		return err
	}
	return c.writePacket(conn, packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Unsubscribe, Qos: 1},
		PacketID:    c.nextPacketID(),
		Filters:     packets.Subscriptions{{Filter: filter}},
	})
}

// Service dispatches queued deliveries. It waits up to wait for the first
// one, then drains whatever else is already queued without blocking. Once the
// connection has dropped it returns an error wrapping ErrConnectionLost.
func (c *Client) Service(ctx context.Context, wait time.Duration) error {
	c.mu.RLock()
	inbox, done := c.inbox, c.done
	c.mu.RUnlock()
	if inbox == nil {
		return ErrNotConnected
	}

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case pk := <-inbox:
			c.dispatch(pk)
		case <-done:
			c.drain(inbox)
			return c.lostErr()
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.drain(inbox)

	select {
	case <-done:
		return c.lostErr()
	default:
		return nil
	}
}

func (c *Client) drain(inbox <-chan packets.Packet) {
	for {
		select {
		case pk := <-inbox:
			c.dispatch(pk)
		default:
			return
		}
	}
}

func (c *Client) dispatch(pk packets.Packet) {
	c.mu.RLock()
	matched := make([]MessageHandler, 0, 1)
	for filter, handler := range c.handlers {
		if MatchTopic(filter, pk.TopicName) {
			matched = append(matched, handler)
		}
	}
	c.mu.RUnlock()

	if len(matched) == 0 {
		c.log.Debug("dropping message without handler", zap.String("topic", pk.TopicName))
		return
	}
	for _, handler := range matched {
		handler.OnMessage(pk.TopicName, pk.Payload)
	}
}

func (c *Client) readLoop(conn net.Conn, reader *bufio.Reader, inbox chan<- packets.Packet, stop <-chan struct{}, done chan<- struct{}) {
	var cause error
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		select {
		case <-stop:
			cause = nil
		default:
		}
		c.lost = cause
		for id, ack := range c.acks {
			close(ack)
			delete(c.acks, id)
		}
		c.mu.Unlock()

		_ = conn.Close()
		close(done)
		if cause != nil {
			c.log.Warn("connection lost", zap.Error(cause))
		}
	}()

	for {
		pk, err := readPacket(reader)
		if err != nil {
			cause = err
			return
		}

		switch pk.FixedHeader.Type {
		case packets.Publish:
			if pk.FixedHeader.Qos == QoS1 {
				if err := c.writePacket(conn, packets.Packet{
					FixedHeader: packets.FixedHeader{Type: packets.Puback},
					PacketID:    pk.PacketID,
				}); err != nil {
					cause = err
					return
				}
			}
			select {
			case inbox <- pk:
			case <-stop:
				return
			}
		case packets.Suback, packets.Unsuback:
			c.mu.RLock()
			ack, ok := c.acks[pk.PacketID]
			c.mu.RUnlock()
			if ok {
				ack <- pk
			}
		case packets.Pingreq:
			_ = c.writePacket(conn, packets.Packet{
				FixedHeader: packets.FixedHeader{Type: packets.Pingresp},
			})
		}
	}
}

// keepaliveLoop pings at three quarters of the keepalive period so the broker
// never sees a silent window longer than the negotiated value.
func (c *Client) keepaliveLoop(conn net.Conn, done <-chan struct{}) {
	if c.cfg.Keepalive <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.Keepalive * 3 / 4)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.writePacket(conn, packets.Packet{
				FixedHeader: packets.FixedHeader{Type: packets.Pingreq},
			}); err != nil {
				return
			}
		}
	}
}

func (c *Client) removeHandler(filter string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[filter]; !ok {
		return false
	}
	delete(c.handlers, filter)
	return true
}

func (c *Client) connectedConn() (net.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

func (c *Client) lostErr() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lost == nil {
		return ErrNotConnected
	}
	return fmt.Errorf("%w: %v", ErrConnectionLost, c.lost)
}

func (c *Client) nextPacketID() uint16 {
	id := uint16(c.packetID.Add(1) % 65535)
	if id == 0 {
		id = uint16(c.packetID.Add(1) % 65535)
		if id == 0 {
			id = 1
		}
	}
	return id
}

// writePacket serializes writers. A failed write closes the socket so the
// reader observes the loss.
func (c *Client) writePacket(conn net.Conn, pk packets.Packet) error {
	b, err := encodePacket(pk)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.ConnectTimeout)); err != nil {
		_ = conn.Close()
		return err
	}
	defer conn.SetWriteDeadline(time.Time{})
	if _, err := conn.Write(b); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}
