package broker

import (
	"errors"
	"fmt"
)

var ErrEndpointRequired = errors.New("broker: endpoint is required")
var ErrNotConnected = errors.New("broker: not connected")
var ErrAlreadyConnected = errors.New("broker: already connected")
var ErrConnectionRefused = errors.New("broker: connection refused")
var ErrConnectionLost = errors.New("broker: connection lost")
var ErrUnexpectedPacket = errors.New("broker: unexpected packet")
var ErrSubscriptionRejected = errors.New("broker: subscription rejected")
var ErrAckTimeout = errors.New("broker: timed out waiting for acknowledgement")
var ErrUnsupportedQoS = errors.New("broker: qos 2 is not supported")
var ErrInvalidTopic = errors.New("broker: invalid topic")
var ErrNilHandler = errors.New("broker: message handler is nil")

// ConnectError carries a non-zero CONNACK return code.
type ConnectError struct {
	Code byte
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("broker: connection refused, result code %d (%s)", e.Code, ConnackReason(e.Code))
}

func (e *ConnectError) Is(target error) bool {
	return target == ErrConnectionRefused
}

// ConnackReason describes an MQTT 3.1.1 CONNACK return code.
func ConnackReason(code byte) string {
	switch code {
	case 0:
		return "accepted"
	case 1:
		return "unacceptable protocol version"
	case 2:
		return "identifier rejected"
	case 3:
		return "server unavailable"
	case 4:
		return "bad user name or password"
	case 5:
		return "not authorized"
	default:
		return "unknown"
	}
}
