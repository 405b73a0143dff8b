package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/egor/permitchat/config"
	"github.com/egor/permitchat/models"
)

// NotificationWriter is implemented by *queries.Store.
type NotificationWriter interface {
	InsertNotification(ctx context.Context, n *models.Notification) error
}

// DBSink stores in-app notifications.
type DBSink struct {
	store NotificationWriter
}

func NewDBSink(store NotificationWriter) *DBSink {
	return &DBSink{store: store}
}

func (s *DBSink) Name() string { return "database" }

func (s *DBSink) Deliver(ctx context.Context, n *models.Notification) error {
	return s.store.InsertNotification(ctx, n)
}

// EmailEvent is the record the mail worker consumes from Kafka.
type EmailEvent struct {
	NotificationID int64     `json:"notificationId,omitempty"`
	Audience       string    `json:"audience"`
	UserID         *int64    `json:"userId,omitempty"`
	Kind           string    `json:"kind"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	ChatID         *int64    `json:"chatId,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// KafkaSink publishes notifications for the e-mail worker.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

// NewSaramaConfig returns the producer settings used for the e-mail topic.
func NewSaramaConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

// NewKafkaSink connects a sync producer to the configured brokers.
func NewKafkaSink(cfg config.KafkaConfig, log *zap.Logger) (*KafkaSink, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaSinkWithProducer(producer, cfg.Topic, log), nil
}

// NewKafkaSinkWithProducer wraps an existing producer.
func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string, log *zap.Logger) *KafkaSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaSink{producer: producer, topic: topic, log: log}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Deliver publishes n keyed by chat id so events of one chat stay ordered.
func (s *KafkaSink) Deliver(_ context.Context, n *models.Notification) error {
	created := n.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	value, err := json.Marshal(EmailEvent{
		NotificationID: n.ID,
		Audience:       n.Audience,
		UserID:         n.UserID,
		Kind:           n.Kind,
		Subject:        n.Title,
		Body:           n.Body,
		ChatID:         n.ChatID,
		OccurredAt:     created,
	})
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(value),
	}
	if n.ChatID != nil {
		msg.Key = sarama.StringEncoder(strconv.FormatInt(*n.ChatID, 10))
	}

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", s.topic, err)
	}
	s.log.Debug("notification published",
		zap.String("topic", s.topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Close shuts the producer down.
func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
