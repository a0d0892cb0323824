//go:build integration

package testkit

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bronystylecrazy/reminder/broker"
	"github.com/bronystylecrazy/reminder/exchange"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type lockedBuilder struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *lockedBuilder) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *lockedBuilder) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

func TestEMQXReminderRoundTrip(t *testing.T) {
	emqx := StartEMQX(t, EMQXOptions{})

	for name, endpoint := range map[string]string{
		"tcp":       emqx.Endpoint,
		"websocket": emqx.WebsocketEndpoint,
	} {
		t.Run(name, func(t *testing.T) {
			subCfg := emqx.BrokerConfig("it-subscriber-" + name)
			subCfg.Endpoint = endpoint
			subscriber, err := broker.NewClient(subCfg, zap.NewNop())
			require.NoError(t, err)

			out := &lockedBuilder{}
			cfg := exchange.Config{
				BaseTopic:      exchange.BaseTopic,
				Prompt:         exchange.DefaultPrompt,
				Interval:       50 * time.Millisecond,
				ServiceTimeout: 50 * time.Millisecond,
			}

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				done <- exchange.NewSubscriber(subscriber, cfg, exchange.NewPrinter(out), out, nil).Run(ctx)
			}()

			line := exchange.ReminderTopic + " Hello World!\n"
			require.Eventually(t, func() bool {
				pubCfg := emqx.BrokerConfig("it-publisher-" + name)
				pubCfg.Endpoint = endpoint
				publisher, err := broker.NewClient(pubCfg, zap.NewNop())
				if err != nil {
					return false
				}
				pub := exchange.NewPublisher(publisher, cfg, strings.NewReader("Hello World!\nquit\n"), io.Discard, nil)
				if err := pub.Run(context.Background()); err != nil {
					return false
				}
				time.Sleep(200 * time.Millisecond)
				return strings.Contains(out.String(), line)
			}, 30*time.Second, 100*time.Millisecond)

			cancel()
			require.NoError(t, <-done)
			require.True(t, strings.HasPrefix(out.String(), "Connected with result code 0\n"))
		})
	}
}
