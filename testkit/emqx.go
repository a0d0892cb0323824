package testkit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bronystylecrazy/reminder/broker"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultEMQXImage          = "emqx/emqx:5.8.4"
	defaultEMQXMQTTPort       = "1883/tcp"
	defaultEMQXWebsocketPort  = "8083/tcp"
	defaultEMQXWebsocketPath  = "/mqtt"
	defaultEMQXStartupTimeout = 2 * time.Minute
)

// EMQXOptions controls how the EMQX container is started.
type EMQXOptions struct {
	Image          string
	StartupTimeout time.Duration
}

// EMQXContainer holds the broker endpoints of a started EMQX container.
type EMQXContainer struct {
	Container         testcontainers.Container
	Endpoint          string
	WebsocketEndpoint string
}

// StartEMQX starts an anonymous EMQX broker with TCP and websocket listeners.
// The test is skipped unless integration tests are enabled and docker is
// reachable; the container is removed when the test ends.
func StartEMQX(t testing.TB, opts EMQXOptions) *EMQXContainer {
	t.Helper()

	RequireIntegration(t)
	requireDocker(t)
	opts = withEMQXDefaults(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.StartupTimeout)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        opts.Image,
			ExposedPorts: []string{defaultEMQXMQTTPort, defaultEMQXWebsocketPort},
			Env: map[string]string{
				"EMQX_ALLOW_ANONYMOUS": "true",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(defaultEMQXMQTTPort),
				wait.ForListeningPort(defaultEMQXWebsocketPort),
			),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, c)
	if err != nil {
		t.Fatalf("start emqx %q: %v", opts.Image, err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("emqx host: %v", err)
	}
	endpoint := func(scheme string, port string, path string) string {
		mapped, err := c.MappedPort(ctx, nat.Port(port))
		if err != nil {
			t.Fatalf("emqx mapped port %s: %v", port, err)
		}
		return fmt.Sprintf("%s://%s:%s%s", scheme, host, mapped.Port(), path)
	}

	return &EMQXContainer{
		Container:         c,
		Endpoint:          endpoint("tcp", defaultEMQXMQTTPort, ""),
		WebsocketEndpoint: endpoint("ws", defaultEMQXWebsocketPort, defaultEMQXWebsocketPath),
	}
}

// BrokerConfig returns a client config pointed at the TCP listener.
func (c *EMQXContainer) BrokerConfig(clientID string) broker.ClientConfig {
	return broker.ClientConfig{
		Endpoint:       c.Endpoint,
		ClientID:       clientID,
		CleanSession:   true,
		Keepalive:      broker.DefaultKeepalive,
		ConnectTimeout: broker.DefaultConnectTimeout,
		InboxSize:      broker.DefaultInboxSize,
	}
}

func withEMQXDefaults(opts EMQXOptions) EMQXOptions {
	if opts.Image == "" {
		opts.Image = defaultEMQXImage
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultEMQXStartupTimeout
	}
	return opts
}
