package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bronystylecrazy/reminder/broker"
)

const disconnectTimeout = 5 * time.Second

type PublishSession interface {
	broker.Session
	broker.Publisher
}

type SubscribeSession interface {
	broker.Session
	broker.Subscriber
}

// connect prints the result line whenever the broker answered, including refusals.
func connect(ctx context.Context, session broker.Session, out io.Writer) error {
	result, err := session.Connect(ctx)
	var refused *broker.ConnectError
	if err == nil || errors.As(err, &refused) {
		fmt.Fprintf(out, "Connected with result code %d\n", result.Code)
	}
	if err != nil {
		return fmt.Errorf("exchange: connect: %w", err)
	}
	return nil
}

func disconnect(ctx context.Context, session broker.Session) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()
	if err := session.Disconnect(ctx); err != nil {
		return fmt.Errorf("exchange: disconnect: %w", err)
	}
	return nil
}

// quiet maps cancellation, the normal way to stop a process, to a clean exit.
func quiet(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
