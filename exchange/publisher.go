package exchange

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/bronystylecrazy/reminder/broker"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Sentinel ends the publisher loop when entered in any letter case.
const Sentinel = "quit"

// MaxLineSize is the largest MQTT remaining length; longer lines cannot be
// carried by one PUBLISH.
const MaxLineSize = 268435455

func IsSentinel(line string) bool {
	return strings.EqualFold(line, Sentinel)
}

// Publisher relays operator lines to the reminder topic.
type Publisher struct {
	session PublishSession
	topic   string
	prompt  string
	in      io.Reader
	out     io.Writer
	log     *zap.Logger
}

func NewPublisher(session PublishSession, cfg Config, in io.Reader, out io.Writer, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		session: session,
		topic:   cfg.topics().Reminder,
		prompt:  cfg.Prompt,
		in:      in,
		out:     out,
		log:     log.Named("publisher"),
	}
}

func (p *Publisher) Topic() string {
	return p.topic
}

// Run connects, relays input until the sentinel, end of input or
// cancellation, and always disconnects on the way out.
func (p *Publisher) Run(ctx context.Context) (err error) {
	if err := connect(ctx, p.session, p.out); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, disconnect(ctx, p.session))
	}()

	published, err := p.Relay(ctx)
	p.log.Debug("relay finished", zap.Int("published", published), zap.Error(err))
	return quiet(err)
}

// Relay prompts for and publishes lines until the sentinel or end of input.
// Publish failures are logged and never end the loop.
func (p *Publisher) Relay(ctx context.Context) (int, error) {
	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	// A blocked read cannot observe ctx; scanning on its own goroutine lets
	// cancellation end the loop while stdin is idle.
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(p.in)
		scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), MaxLineSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	published := 0
	for {
		fmt.Fprint(p.out, p.prompt)

		select {
		case <-ctx.Done():
			return published, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(p.out)
				if err := <-readErr; err != nil {
					return published, fmt.Errorf("exchange: read input: %w", err)
				}
				return published, nil
			}
			if IsSentinel(line) {
				return published, nil
			}
			if err := p.session.PublishString(p.topic, line, broker.NoRetain, broker.QoS0); err != nil {
				p.log.Warn("publish failed", zap.String("topic", p.topic), zap.Error(err))
				continue
			}
			published++
		}
	}
}
