package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject status events are published on.
const DefaultSubject = "kyc.status.updated"

type natsConn interface {
	Publish(subj string, data []byte) error
	Close()
}

// NATSPublisher publishes StatusChanged events on a core NATS subject.
type NATSPublisher struct {
	conn    natsConn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("kycgate"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connected to NATS", "url", url)
	return newNATSPublisher(conn, subject, logger), nil
}

func newNATSPublisher(conn natsConn, subject string, logger *slog.Logger) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}
}

func (p *NATSPublisher) Publish(_ context.Context, ev StatusChanged) error {
	body, err := encode(ev)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}
	if err := p.conn.Publish(p.subject, body); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
		p.logger.Info("NATS connection closed")
	}
	return nil
}
