package broker_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/bronystylecrazy/reminder/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testTopic = "uark/csce5013/embrugge/reminder"

type delivery struct {
	topic   string
	payload string
}

type recordingHandler struct {
	got []delivery
}

func (h *recordingHandler) OnMessage(topic string, payload []byte) {
	h.got = append(h.got, delivery{topic: topic, payload: string(payload)})
}

func TestClientReceivesInlinePublish(t *testing.T) {
	server, addr := startTestServer(t)
	client := connectTestClient(t, "tcp://"+addr, "inline-sub")

	handler := &recordingHandler{}
	require.NoError(t, client.Subscribe(context.Background(), testTopic, broker.QoS0, handler))

	require.NoError(t, server.PublishString(testTopic, "Hello World!", broker.NoRetain, broker.QoS0))

	serviceUntil(t, client, func() bool { return len(handler.got) > 0 })
	require.Len(t, handler.got, 1)
	assert.Equal(t, delivery{topic: testTopic, payload: "Hello World!"}, handler.got[0])
}

func TestClientRoundTripBetweenClients(t *testing.T) {
	_, addr := startTestServer(t)
	sub := connectTestClient(t, "tcp://"+addr, "roundtrip-sub")
	pub := connectTestClient(t, "tcp://"+addr, "roundtrip-pub")

	handler := &recordingHandler{}
	require.NoError(t, sub.Subscribe(context.Background(), testTopic, broker.QoS0, handler))

	payload := "Hello World!"
	require.NoError(t, pub.PublishString(testTopic, payload, broker.NoRetain, broker.QoS0))

	serviceUntil(t, sub, func() bool { return len(handler.got) > 0 })
	require.Len(t, handler.got, 1)
	assert.Equal(t, testTopic, handler.got[0].topic)
	assert.Equal(t, []byte(payload), []byte(handler.got[0].payload))
}

func TestClientQoS1Delivery(t *testing.T) {
	_, addr := startTestServer(t)
	sub := connectTestClient(t, "tcp://"+addr, "qos1-sub")
	pub := connectTestClient(t, "tcp://"+addr, "qos1-pub")

	handler := &recordingHandler{}
	require.NoError(t, sub.Subscribe(context.Background(), testTopic, broker.QoS1, handler))
	require.NoError(t, pub.PublishString(testTopic, "acked", broker.NoRetain, broker.QoS1))

	serviceUntil(t, sub, func() bool { return len(handler.got) > 0 })
	assert.Equal(t, "acked", handler.got[0].payload)
}

func TestClientIgnoresOtherTopics(t *testing.T) {
	_, addr := startTestServer(t)
	sub := connectTestClient(t, "tcp://"+addr, "mismatch-sub")
	pub := connectTestClient(t, "tcp://"+addr, "mismatch-pub")

	handler := &recordingHandler{}
	require.NoError(t, sub.Subscribe(context.Background(), testTopic, broker.QoS0, handler))

	require.NoError(t, pub.PublishString("uark/csce5013/embrugge/song", "not for you", broker.NoRetain, broker.QoS0))
	// a marker on the subscribed topic proves the earlier message had its chance to arrive
	require.NoError(t, pub.PublishString(testTopic, "marker", broker.NoRetain, broker.QoS0))

	serviceUntil(t, sub, func() bool { return len(handler.got) > 0 })
	require.Len(t, handler.got, 1)
	assert.Equal(t, "marker", handler.got[0].payload)
}

func TestClientWildcardSubscription(t *testing.T) {
	_, addr := startTestServer(t)
	sub := connectTestClient(t, "tcp://"+addr, "wildcard-sub")
	pub := connectTestClient(t, "tcp://"+addr, "wildcard-pub")

	handler := &recordingHandler{}
	require.NoError(t, sub.Subscribe(context.Background(), "uark/csce5013/embrugge/#", broker.QoS0, handler))

	require.NoError(t, pub.PublishString("uark/csce5013/embrugge/notes", "n", broker.NoRetain, broker.QoS0))
	require.NoError(t, pub.PublishString(testTopic, "r", broker.NoRetain, broker.QoS0))

	serviceUntil(t, sub, func() bool { return len(handler.got) >= 2 })
	assert.ElementsMatch(t, []delivery{
		{topic: "uark/csce5013/embrugge/notes", payload: "n"},
		{topic: testTopic, payload: "r"},
	}, handler.got)
}

func TestClientOverWebsocket(t *testing.T) {
	addr := reserveTCPAddr(t)
	server, err := broker.NewServer(broker.ServerConfig{WebsocketAddress: addr}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	client := connectTestClient(t, "ws://"+addr, "ws-sub")
	handler := &recordingHandler{}
	require.NoError(t, client.Subscribe(context.Background(), testTopic, broker.QoS0, handler))
	require.NoError(t, server.PublishString(testTopic, "over ws", broker.NoRetain, broker.QoS0))

	serviceUntil(t, client, func() bool { return len(handler.got) > 0 })
	assert.Equal(t, "over ws", handler.got[0].payload)
}

func TestClientServiceWithoutMessagesDispatchesNothing(t *testing.T) {
	_, addr := startTestServer(t)
	client := connectTestClient(t, "tcp://"+addr, "idle-sub")

	handler := &recordingHandler{}
	require.NoError(t, client.Subscribe(context.Background(), testTopic, broker.QoS0, handler))

	for i := 0; i < 3; i++ {
		require.NoError(t, client.Service(context.Background(), 20*time.Millisecond))
	}
	assert.Empty(t, handler.got)
}

func TestClientConnectRefused(t *testing.T) {
	addr := startRefusingBroker(t, 5)

	client, err := broker.NewClient(broker.ClientConfig{
		Endpoint:       addr,
		ClientID:       "refused",
		ConnectTimeout: 2 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	result, err := client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrConnectionRefused))
	assert.Equal(t, byte(5), result.Code)
	assert.False(t, result.Accepted())

	var connErr *broker.ConnectError
	require.True(t, errors.As(err, &connErr))
	assert.Contains(t, connErr.Error(), "not authorized")
}

func TestClientConnectUnreachable(t *testing.T) {
	addr := reserveTCPAddr(t)

	client, err := broker.NewClient(broker.ClientConfig{
		Endpoint:       "tcp://" + addr,
		ConnectTimeout: time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, broker.ErrConnectionRefused))
}

func TestClientRequiresConnection(t *testing.T) {
	client, err := broker.NewClient(broker.ClientConfig{Endpoint: "127.0.0.1:1"}, zap.NewNop())
	require.NoError(t, err)

	assert.ErrorIs(t, client.PublishString(testTopic, "x", broker.NoRetain, broker.QoS0), broker.ErrNotConnected)
	assert.ErrorIs(t, client.Subscribe(context.Background(), testTopic, broker.QoS0, &recordingHandler{}), broker.ErrNotConnected)
	assert.ErrorIs(t, client.Service(context.Background(), 0), broker.ErrNotConnected)
	assert.NoError(t, client.Disconnect(context.Background()))
}

func TestClientRejectsInvalidArguments(t *testing.T) {
	client, err := broker.NewClient(broker.ClientConfig{Endpoint: "127.0.0.1:1"}, zap.NewNop())
	require.NoError(t, err)

	assert.ErrorIs(t, client.PublishString("a/+/b", "x", broker.NoRetain, broker.QoS0), broker.ErrInvalidTopic)
	assert.ErrorIs(t, client.PublishString(testTopic, "x", broker.NoRetain, broker.QoS2), broker.ErrUnsupportedQoS)
	assert.ErrorIs(t, client.Subscribe(context.Background(), testTopic, broker.QoS0, nil), broker.ErrNilHandler)
	assert.ErrorIs(t, client.Subscribe(context.Background(), "a/#/b", broker.QoS0, &recordingHandler{}), broker.ErrInvalidTopic)

	_, err = broker.NewClient(broker.ClientConfig{}, zap.NewNop())
	assert.ErrorIs(t, err, broker.ErrEndpointRequired)
}

func TestClientDisconnectIsIdempotent(t *testing.T) {
	_, addr := startTestServer(t)
	client := connectTestClient(t, "tcp://"+addr, "disconnect-twice")

	require.NoError(t, client.Disconnect(context.Background()))
	require.NoError(t, client.Disconnect(context.Background()))
	assert.ErrorIs(t, client.Service(context.Background(), 0), broker.ErrNotConnected)
	assert.ErrorIs(t, client.PublishString(testTopic, "late", broker.NoRetain, broker.QoS0), broker.ErrNotConnected)
}

func TestClientReportsConnectionLoss(t *testing.T) {
	server, addr := startTestServer(t)
	client := connectTestClient(t, "tcp://"+addr, "lost")

	require.NoError(t, server.Stop(context.Background()))

	deadline := time.Now().Add(5 * time.Second)
	for {
		err := client.Service(context.Background(), 50*time.Millisecond)
		if err != nil {
			assert.ErrorIs(t, err, broker.ErrConnectionLost)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("connection loss was not reported")
		}
	}
}

func TestClientAlreadyConnected(t *testing.T) {
	_, addr := startTestServer(t)
	client := connectTestClient(t, "tcp://"+addr, "twice")

	_, err := client.Connect(context.Background())
	assert.ErrorIs(t, err, broker.ErrAlreadyConnected)
}

func startTestServer(t *testing.T) (*broker.Server, string) {
	t.Helper()

	addr := reserveTCPAddr(t)
	server, err := broker.NewServer(broker.ServerConfig{TCPAddress: addr}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	waitUntil(t, 3*time.Second, 50*time.Millisecond, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, "broker did not start listening in time")

	return server, addr
}

func connectTestClient(t *testing.T, endpoint string, clientID string) *broker.Client {
	t.Helper()

	client, err := broker.NewClient(broker.ClientConfig{
		Endpoint:       endpoint,
		ClientID:       clientID,
		CleanSession:   true,
		Keepalive:      30 * time.Second,
		ConnectTimeout: 3 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := client.Connect(ctx)
	require.NoError(t, err)
	require.True(t, result.Accepted())
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	return client
}

func serviceUntil(t *testing.T, client *broker.Client, done func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for delivery")
		}
		require.NoError(t, client.Service(context.Background(), 50*time.Millisecond))
	}
}

// startRefusingBroker answers every CONNECT with the given return code.
func startRefusingBroker(t *testing.T, code byte) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				if _, err := r.ReadByte(); err != nil {
					return
				}
				remaining, err := readRemainingLength(r)
				if err != nil {
					return
				}
				if _, err := r.Discard(remaining); err != nil {
					return
				}
				_, _ = conn.Write([]byte{0x20, 0x02, 0x00, code})
			}(conn)
		}
	}()

	return l.Addr().String()
}

func readRemainingLength(r *bufio.Reader) (int, error) {
	multiplier := 1
	value := 0
	for i := 0; i < 4; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		value += int(b&127) * multiplier
		if b&128 == 0 {
			break
		}
		multiplier *= 128
	}
	return value, nil
}

func reserveTCPAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve listen addr: %v", err)
	}
	addr := l.Addr().String()
	if err := l.Close(); err != nil {
		t.Fatalf("close reserved listener: %v", err)
	}
	return addr
}

func waitUntil(t *testing.T, timeout time.Duration, step time.Duration, check func() bool, failMsg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(step)
	}
	t.Fatal(failMsg)
}
