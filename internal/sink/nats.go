package sink

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Message headers set on every published chunk
const (
	HeaderSeq = "Dirlog-Seq"
	HeaderDir = "Dirlog-Dir"
)

// Publisher is the part of *nats.Conn the sink uses
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATS publishes each chunk as one message. Seq counts successfully
// published chunks, so consumers can detect gaps.
type NATS struct {
	pub     Publisher
	subject string
	dir     string
	seq     uint64
}

// NewNATS creates a sink publishing to subject
func NewNATS(pub Publisher, subject, dir string) *NATS {
	return &NATS{pub: pub, subject: subject, dir: dir}
}

// ConnectNATS dials a NATS server with reconnect logging
func ConnectNATS(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("dirlog"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("Connected to NATS", zap.String("url", url))
	return nc, nil
}

// Name returns the sink name used in logs
func (s *NATS) Name() string { return "nats:" + s.subject }

// Seq returns the sequence number of the last published chunk
func (s *NATS) Seq() uint64 { return s.seq }

// Write publishes data with sequence and directory headers
func (s *NATS) Write(ctx context.Context, data []byte) error {
	next := s.seq + 1

	msg := nats.NewMsg(s.subject)
	msg.Data = data
	msg.Header.Set(HeaderSeq, strconv.FormatUint(next, 10))
	msg.Header.Set(HeaderDir, s.dir)

	if err := s.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", s.subject, err)
	}
	s.seq = next
	return nil
}
