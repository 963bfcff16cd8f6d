package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/IliaW/page-renderer/config"
	"github.com/IliaW/page-renderer/internal/renderer"
	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
)

// DeadLetter is the payload written for a request that could not be rendered.
type DeadLetter struct {
	Payload   string `json:"payload"`
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Service   string `json:"service"`
	Timestamp int64  `json:"timestamp"`
}

type KafkaDLQClient struct {
	serviceName string
	kafkaWriter *kafka.Writer
	cfg         *config.ProducerConfig
}

func NewKafkaDLQ(serviceName string, cfg *config.ProducerConfig) *KafkaDLQClient {
	return &KafkaDLQClient{
		serviceName: serviceName,
		kafkaWriter: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Addr...),
			Topic:        cfg.DeadLetterTopicName,
			Balancer:     &kafka.Hash{},
			MaxAttempts:  cfg.MaxAttempts,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
		},
		cfg: cfg,
	}
}

func (d *KafkaDLQClient) SendToDLQ(payload string, cause error) {
	letter := &DeadLetter{
		Payload:   payload,
		Error:     cause.Error(),
		Kind:      renderer.Kind(cause),
		Service:   d.serviceName,
		Timestamp: time.Now().UTC().UnixMilli(),
	}
	body, err := jsoniter.Marshal(letter)
	if err != nil {
		slog.Error("marshaling error.", slog.String("err", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()
	err = d.kafkaWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(payload),
		Value: body,
	})
	if err != nil {
		slog.Error("failed to send message to dlq.", slog.String("topic", d.cfg.DeadLetterTopicName),
			slog.String("err", err.Error()))
		return
	}
	slog.Debug("message sent to dlq.", slog.String("kind", letter.Kind))
}

func (d *KafkaDLQClient) Close() {
	if err := d.kafkaWriter.Close(); err != nil {
		slog.Error("failed to close dlq writer.", slog.String("err", err.Error()))
	}
}
