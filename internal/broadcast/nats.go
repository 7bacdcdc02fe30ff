package broadcast

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/costwise/aitrace/internal/record"
)

// NATSMirror republishes broadcast events to <prefix>.<step> so external
// monitors can follow the stream without holding a websocket session.
type NATSMirror struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSMirror(url, prefix string) (*NATSMirror, error) {
	conn, err := nats.Connect(url,
		nats.Name("aitrace-mirror"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSMirror{conn: conn, prefix: prefix}, nil
}

func (m *NATSMirror) Publish(step record.Step, payload []byte) error {
	return m.conn.Publish(m.prefix+"."+string(step), payload)
}

func (m *NATSMirror) Close() {
	_ = m.conn.Drain()
}
