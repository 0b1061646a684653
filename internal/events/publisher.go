// Package events publishes picture processing status transitions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kiranshivaraju/picflow/internal/config"
	"github.com/kiranshivaraju/picflow/pkg/models"
	"github.com/segmentio/kafka-go"
)

// Publisher receives every status transition of every job.
type Publisher interface {
	Publish(ctx context.Context, ev models.ProcessingEvent) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON keyed by picture id, so all events
// for one picture land on the same partition in order.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	log     *slog.Logger
}

// NewKafkaPublisher creates a publisher for the configured brokers and topic.
func NewKafkaPublisher(cfg config.EventsConfig, logger *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w, cfg.Topic, logger)
}

func newKafkaPublisher(w messageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		writer:  w,
		topic:   topic,
		timeout: 5 * time.Second,
		log:     logger.With("component", "events", "topic", topic),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev models.ProcessingEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.PictureID, 10)),
		Value: value,
		Time:  ev.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("write event for picture %d: %w", ev.PictureID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, models.ProcessingEvent) error { return nil }
func (NopPublisher) Close() error                                          { return nil }

// New returns a KafkaPublisher when brokers are configured and a
// NopPublisher otherwise.
func New(cfg config.EventsConfig, logger *slog.Logger) Publisher {
	if !cfg.Enabled() {
		return NopPublisher{}
	}
	return NewKafkaPublisher(cfg, logger)
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = NopPublisher{}
)
