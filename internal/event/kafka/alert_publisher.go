package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/service"
)

// KafkaAlertPublisher реализует service.AlertPublisher используя Kafka
// Топик читают операторские инструменты: исчерпанная компенсация означает,
// что леджер durably разошёлся с реальностью и чинится руками
type KafkaAlertPublisher struct {
	logger *zap.Logger
	writer *kafka.Writer
	topic  string
}

// NewKafkaAlertPublisher создаёт новый Kafka publisher для операторских алертов
func NewKafkaAlertPublisher(logger *zap.Logger, brokers []string, topic string) *KafkaAlertPublisher {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &KafkaAlertPublisher{
		logger: logger,
		writer: writer,
		topic:  topic,
	}
}

// Close закрывает Kafka writer
func (p *KafkaAlertPublisher) Close() error {
	return p.writer.Close()
}

// PublishCompensationExhausted публикует алерт об исчерпанной компенсации
func (p *KafkaAlertPublisher) PublishCompensationExhausted(ctx context.Context, event service.CompensationExhaustedEvent) error {
	payload := map[string]interface{}{
		"event_id":       event.EventID,
		"event_type":     "stock.compensation.exhausted",
		"event_version":  1,
		"occurred_at":    event.OccurredAt.Format(time.RFC3339),
		"reservation_id": event.ReservationID,
		"store_id":       event.StoreID,
		"attempts":       event.Attempts,
		"last_error":     event.LastError,
	}

	valueBytes, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("failed to marshal compensation exhausted event",
			zap.Error(err),
			zap.String("reservation_id", event.ReservationID),
		)
		return err
	}

	message := kafka.Message{
		Key:   []byte(event.ReservationID), //ключ для сообщения - ID резервирования
		Value: valueBytes,
	}

	err = p.writer.WriteMessages(ctx, message)
	if err != nil {
		p.logger.Error("failed to publish compensation exhausted event",
			zap.Error(err),
			zap.String("topic", p.topic),
			zap.String("reservation_id", event.ReservationID),
		)
		return err
	}

	p.logger.Warn("compensation exhausted alert published",
		zap.String("topic", p.topic),
		zap.String("reservation_id", event.ReservationID),
		zap.String("store_id", event.StoreID),
		zap.Int("attempts", event.Attempts),
	)

	return nil
}
