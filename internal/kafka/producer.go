package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-pickup/internal/logger"
	"ms-pickup/internal/models"
)

// TopicTicketEvents carries every lifecycle event for downstream
// analytics consumers.
const TopicTicketEvents = "ticket-events"

// TicketEvent is the wire shape of one lifecycle event.
type TicketEvent struct {
	Event      string        `json:"event"`
	Ticket     models.Ticket `json:"ticket"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Producer streams ticket lifecycle events. MockMode logs instead of
// writing, for local runs without a broker.
type Producer struct {
	Writer   *kafka.Writer
	Logger   *logger.Logger
	MockMode bool
}

func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	})
	return &Producer{Writer: writer, Logger: log}
}

func (p *Producer) PublishTicketEvent(ctx context.Context, event string, ticket models.Ticket) error {
	msgBytes, err := json.Marshal(TicketEvent{
		Event:      event,
		Ticket:     ticket,
		OccurredAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}

	if p.MockMode {
		if p.Logger != nil {
			p.Logger.LogKafka("MOCK", TopicTicketEvents, event+" "+ticket.ID)
		}
		return nil
	}

	if p.Logger != nil {
		p.Logger.LogKafka("PUBLISH", TopicTicketEvents, event+" "+ticket.ID)
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ticket.ID),
		Value: msgBytes,
	})
}

func (p *Producer) Close() error {
	if p.Writer != nil {
		return p.Writer.Close()
	}
	return nil
}
