package broker

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/mochi-mqtt/server/v2/packets"
)

const protocolVersion = 4

func encodePacket(pk packets.Packet) ([]byte, error) {
	pk.ProtocolVersion = protocolVersion
	buf := new(bytes.Buffer)
	var err error
	switch pk.FixedHeader.Type {
	case packets.Connect:
		err = pk.ConnectEncode(buf)
	case packets.Publish:
		err = pk.PublishEncode(buf)
	case packets.Puback:
		err = pk.PubackEncode(buf)
	case packets.Subscribe:
		err = pk.SubscribeEncode(buf)
	case packets.Unsubscribe:
		err = pk.UnsubscribeEncode(buf)
	case packets.Pingreq:
		err = pk.PingreqEncode(buf)
	case packets.Pingresp:
		err = pk.PingrespEncode(buf)
	case packets.Disconnect:
		err = pk.DisconnectEncode(buf)
	default:
		err = fmt.Errorf("%w: unsupported outbound type=%d", ErrUnexpectedPacket, pk.FixedHeader.Type)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readPacket(reader *bufio.Reader) (packets.Packet, error) {
	var pk packets.Packet
	headerByte, err := reader.ReadByte()
	if err != nil {
		return pk, err
	}
	fh := packets.FixedHeader{}
	if err := fh.Decode(headerByte); err != nil {
		return pk, err
	}
	remaining, _, err := packets.DecodeLength(reader)
	if err != nil {
		return pk, err
	}
	fh.Remaining = remaining

	data := make([]byte, remaining)
	if _, err := io.ReadFull(reader, data); err != nil {
		return pk, err
	}
	pk = packets.Packet{
		FixedHeader:     fh,
		ProtocolVersion: protocolVersion,
	}

	switch fh.Type {
	case packets.Connack:
		err = pk.ConnackDecode(data)
	case packets.Publish:
		err = pk.PublishDecode(data)
	case packets.Puback:
		err = pk.PubackDecode(data)
	case packets.Suback:
		err = pk.SubackDecode(data)
	case packets.Unsuback:
		err = pk.UnsubackDecode(data)
	case packets.Pingresp:
		err = pk.PingrespDecode(data)
	case packets.Pingreq:
		err = pk.PingreqDecode(data)
	default:
		// other types are not expected from a broker on a QoS 0/1 session
	}
	return pk, err
}
