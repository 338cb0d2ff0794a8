package message_broaker

import (
	"context"
	"time"

	"github.com/RezaEskandarii/ticketfire/types"
	"github.com/nats-io/nats.go"
)

type natsConn interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSPublisher sends events on core NATS subjects of the form "<subject>.<event type>".
type NATSPublisher struct {
	conn    natsConn
	subject string
}

func NewNATSPublisher(url, subject, clientName string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc, subject: subject}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, event types.TaskEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := encodeEvent(event)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject+"."+string(event.Type), body)
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
