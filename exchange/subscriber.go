package exchange

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bronystylecrazy/reminder/broker"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Subscriber services a subscription to the reminder topic on a fixed cadence.
type Subscriber struct {
	session        SubscribeSession
	topic          string
	handler        broker.MessageHandler
	interval       time.Duration
	serviceTimeout time.Duration
	maxIterations  int
	out            io.Writer
	log            *zap.Logger
}

func NewSubscriber(session SubscribeSession, cfg Config, handler broker.MessageHandler, out io.Writer, log *zap.Logger) *Subscriber {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{
		session:        session,
		topic:          cfg.topics().Reminder,
		handler:        handler,
		interval:       cfg.Interval,
		serviceTimeout: cfg.ServiceTimeout,
		maxIterations:  cfg.MaxIterations,
		out:            out,
		log:            log.Named("subscriber"),
	}
}

func (s *Subscriber) Topic() string {
	return s.topic
}

func (s *Subscriber) Run(ctx context.Context) (err error) {
	if err := connect(ctx, s.session, s.out); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, disconnect(ctx, s.session))
	}()

	if err := s.session.Subscribe(ctx, s.topic, broker.QoS0, s.handler); err != nil {
		return quiet(fmt.Errorf("exchange: subscribe %s: %w", s.topic, err))
	}
	s.log.Info("subscribed", zap.String("topic", s.topic))

	return quiet(s.Loop(ctx))
}

// Loop runs service steps separated by the configured interval until ctx is
// done, the iteration bound is reached, or the connection drops.
func (s *Subscriber) Loop(ctx context.Context) error {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for i := 0; s.maxIterations <= 0 || i < s.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.session.Service(ctx, s.serviceTimeout); err != nil {
			return err
		}

		timer.Reset(s.interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}
