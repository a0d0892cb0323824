package exchange

import (
	"fmt"
	"io"

	"github.com/bronystylecrazy/reminder/broker"
)

var _ broker.MessageHandler = (*Printer)(nil)

// Printer writes each delivery as "<topic> <payload>".
type Printer struct {
	out io.Writer
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) OnMessage(topic string, payload []byte) {
	fmt.Fprintf(p.out, "%s %s\n", topic, payload)
}
