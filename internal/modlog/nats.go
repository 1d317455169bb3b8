package modlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ihiteshgupta/telegram-modbot/internal/store"
)

// msgIDHeader makes redeliveries of the same entry deduplicate on JetStream.
const msgIDHeader = "Nats-Msg-Id"

// NATSSink publishes log entries as JSON on a subject.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	publish func(*nats.Msg) error
}

// NewNATSSink connects to url. The connection reconnects forever.
func NewNATSSink(url, subject string, logger *slog.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name("modbot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.Timeout(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &NATSSink{conn: nc, subject: subject, publish: nc.PublishMsg}, nil
}

// Publish implements Sink.
func (s *NATSSink) Publish(_ context.Context, e store.LogEntry) error {
	msg, err := s.message(e)
	if err != nil {
		return err
	}
	if err := s.publish(msg); err != nil {
		return fmt.Errorf("failed to publish log entry: %w", err)
	}
	return nil
}

func (s *NATSSink) message(e store.LogEntry) (*nats.Msg, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode log entry: %w", err)
	}

	msg := nats.NewMsg(s.subject)
	msg.Header.Set(msgIDHeader, e.ID)
	msg.Data = data
	return msg, nil
}

// Close drains the connection.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
