// Package kafkasink publishes security events to Kafka as CloudEvents. Use it
// as the Engine audit sink so downstream consumers (SIEM, alerting) see the
// same events the SecurityEventLog stores.
package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	accountguard "github.com/securyflex/accountguard"
	"go.uber.org/zap"
)

const (
	specVersion = "1.0"
	contentType = "application/json"
	typePrefix  = "nl.securyflex.security."
)

// Config configures a Sink.
type Config struct {
	Brokers []string
	Topic   string
	// Source is the CloudEvents source attribute. Defaults to "accountguard".
	Source string
	// WriteTimeout bounds a single publish. Defaults to 5s.
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// cloudEvent is the CloudEvents 1.0 JSON envelope.
type cloudEvent struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	SpecVersion string          `json:"specversion"`
	Type        string          `json:"type"`
	Time        time.Time       `json:"time"`
	Subject     string          `json:"subject,omitempty"`
	ContentType string          `json:"datacontenttype"`
	Data        json.RawMessage `json:"data"`
}

// Sink implements accountguard.AuditSink.
type Sink struct {
	writer  messageWriter
	source  string
	timeout time.Duration
	logger  *zap.Logger
	failed  atomic.Uint64
}

// New returns a Sink writing to cfg.Topic.
func New(cfg Config, logger *zap.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafkasink: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafkasink: topic is required")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}
	return newSink(w, cfg, logger), nil
}

func newSink(w messageWriter, cfg Config, logger *zap.Logger) *Sink {
	if cfg.Source == "" {
		cfg.Source = "accountguard"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		writer:  w,
		source:  cfg.Source,
		timeout: cfg.WriteTimeout,
		logger:  logger.Named("kafkasink"),
	}
}

// Emit publishes event. Messages are keyed by account id, falling back to
// email, so one account's events stay ordered on a partition. Failures are
// logged and counted; the caller is never blocked past WriteTimeout.
func (s *Sink) Emit(ctx context.Context, event accountguard.SecurityEvent) {
	msg, err := s.message(event)
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("encode security event", zap.String("event_id", event.ID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.failed.Add(1)
		s.logger.Warn("publish security event",
			zap.String("event_id", event.ID),
			zap.String("kind", string(event.Kind)),
			zap.Error(err),
		)
	}
}

func (s *Sink) message(event accountguard.SecurityEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}

	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	subject := event.AccountID
	if subject == "" {
		subject = event.Email
	}

	ce := cloudEvent{
		ID:          id,
		Source:      s.source,
		SpecVersion: specVersion,
		Type:        typePrefix + string(event.Kind),
		Time:        event.CreatedAt.UTC(),
		Subject:     subject,
		ContentType: contentType,
		Data:        data,
	}
	value, err := json.Marshal(ce)
	if err != nil {
		return kafka.Message{}, err
	}

	return kafka.Message{
		Key:   []byte(subject),
		Value: value,
		Headers: []kafka.Header{
			{Key: "ce_id", Value: []byte(ce.ID)},
			{Key: "ce_source", Value: []byte(ce.Source)},
			{Key: "ce_specversion", Value: []byte(ce.SpecVersion)},
			{Key: "ce_type", Value: []byte(ce.Type)},
			{Key: "ce_time", Value: []byte(ce.Time.Format(time.RFC3339))},
		},
	}, nil
}

// Failed returns how many events could not be published.
func (s *Sink) Failed() uint64 {
	return s.failed.Load()
}

// Close flushes and closes the writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
