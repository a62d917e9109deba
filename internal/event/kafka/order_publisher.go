package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/service"
)

// KafkaOrderEventPublisher реализует service.OrderEventPublisher используя Kafka
type KafkaOrderEventPublisher struct {
	logger *zap.Logger
	writer *kafka.Writer
	topic  string
}

// NewKafkaOrderEventPublisher создаёт новый Kafka publisher для событий заказов
func NewKafkaOrderEventPublisher(logger *zap.Logger, brokers []string, topic string) *KafkaOrderEventPublisher {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &KafkaOrderEventPublisher{
		logger: logger,
		writer: writer,
		topic:  topic,
	}
}

// Close закрывает Kafka writer
func (p *KafkaOrderEventPublisher) Close() error {
	return p.writer.Close()
}

// PublishOrderPlaced публикует событие успешного размещения заказа в Kafka
func (p *KafkaOrderEventPublisher) PublishOrderPlaced(ctx context.Context, event service.OrderPlacedEvent) error {
	// Формируем JSON payload события
	payload := map[string]interface{}{
		"event_id":       event.EventID,
		"event_type":     "order.placed",
		"event_version":  1, //версия события
		"occurred_at":    event.OccurredAt.Format(time.RFC3339),
		"order_id":       event.OrderID,
		"store_id":       event.StoreID,
		"customer_ref":   event.CustomerRef,
		"reservation_id": event.ReservationID,
		"total_cents":    event.TotalCents,
	}

	valueBytes, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("failed to marshal order placed event",
			zap.Error(err),
			zap.String("order_id", event.OrderID),
		)
		return err
	}

	// Отправляем сообщение в Kafka
	message := kafka.Message{
		Key:   []byte(event.OrderID), //ключ для сообщения - ID заказа
		Value: valueBytes,
	}

	err = p.writer.WriteMessages(ctx, message)
	if err != nil {
		p.logger.Error("failed to publish order placed event",
			zap.Error(err),
			zap.String("topic", p.topic),
			zap.String("order_id", event.OrderID),
			zap.String("store_id", event.StoreID),
		)
		return err
	}

	p.logger.Info("order placed event published",
		zap.String("topic", p.topic),
		zap.String("order_id", event.OrderID),
		zap.String("store_id", event.StoreID),
		zap.Int64("total_cents", event.TotalCents),
	)

	return nil
}
