package events

import (
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// MessageWriter exposes the writer seam to tests.
type MessageWriter = messageWriter

func NewKafkaPublisherWithWriter(w MessageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	return newKafkaPublisher(w, topic, logger)
}

var _ MessageWriter = (*kafka.Writer)(nil)
