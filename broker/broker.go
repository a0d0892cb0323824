package broker

import (
	"context"
	"time"
)

// MessageHandler receives deliveries for a subscribed filter.
type MessageHandler interface {
	OnMessage(topic string, payload []byte)
}

type MessageHandlerFunc func(topic string, payload []byte)

func (f MessageHandlerFunc) OnMessage(topic string, payload []byte) {
	f(topic, payload)
}

type Session interface {
	Connect(ctx context.Context) (ConnectResult, error)
	Disconnect(ctx context.Context) error
}

type Publisher interface {
	Publish(topic string, payload []byte, retain bool, qos byte) error
	PublishString(topic string, payload string, retain bool, qos byte) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, filter string, qos byte, handler MessageHandler) error
	Unsubscribe(filter string) error
	// Service dispatches pending deliveries on the calling goroutine.
	Service(ctx context.Context, wait time.Duration) error
}

const (
	NoRetain = false
	Retain   = true
)

const (
	QoS0 byte = 0
	QoS1 byte = 1
	QoS2 byte = 2
)
