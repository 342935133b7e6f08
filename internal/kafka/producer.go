package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sportmart/orders/internal/logger"
)

// Producer is an async writer: Publish drops a message into the inbox and
// returns immediately; a single goroutine drains it and flushes the rest on
// shutdown. Delivery is fire-and-forget.
type Producer struct {
	w         *kafka.Writer
	inbox     chan kafka.Message
	closing   chan struct{}
	closeOnce sync.Once
	closeCh   chan struct{}
	log       *logger.Logger
}

func NewProducer(brokers []string, buf int, log *logger.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
		},
		inbox:   make(chan kafka.Message, buf),
		closing: make(chan struct{}),
		closeCh: make(chan struct{}),
		log:     log,
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case <-p.closing:
				p.drain()
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

// drain flushes whatever made it into the inbox before the close signal,
// then releases the writer. The inbox itself is never closed, so a straggler
// Publish racing shutdown is dropped instead of panicking.
func (p *Producer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			_ = p.w.Close()
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Error("kafka_publish", err, map[string]any{"topic": m.Topic})
	}
}

// Publish enqueues one message; a full inbox or a closed producer drops it
// rather than blocking the order path.
func (p *Producer) Publish(topic, eventType string, key, value []byte) {
	select {
	case <-p.closing:
		p.log.Error("kafka_publish", nil, map[string]any{"topic": topic, "dropped": true})
		return
	default:
	}
	m := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(eventType)},
			{Key: "x-event-version", Value: []byte("1")},
		},
	}
	select {
	case p.inbox <- m:
	default:
		p.log.Error("kafka_publish", nil, map[string]any{"topic": topic, "dropped": true})
	}
}

// Close stops accepting messages; the drain goroutine flushes what is left.
func (p *Producer) Close() { p.closeOnce.Do(func() { close(p.closing) }) }

// WaitClosed blocks until the drain goroutine has exited.
func (p *Producer) WaitClosed() { <-p.closeCh }
