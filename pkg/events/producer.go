// Package events publishes domain events to the event bus. Delivery is
// at-least-once and decoupled from request handling: emitting never blocks
// a request and never fails the operation that triggered it.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Topics emitted by the authentication state machine.
const (
	TopicUserRegistered = "user.registered"
	TopicUserMagicLink  = "user.magic_link"
	TopicLowRecovery    = "user.low_recovery_codes"
)

// Producer is the emit handle injected into domain services.
type Producer interface {
	Emit(topic string, payload interface{})
}

// writer is the subset of kafka.Writer the producer uses.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer queues events in a bounded in-memory buffer and flushes
// them to Kafka from a background goroutine. When the buffer is full the
// event is dropped and counted; handler success never depends on the bus.
type KafkaProducer struct {
	writer  writer
	queue   chan kafka.Message
	log     *logrus.Logger
	timeout time.Duration

	wg       sync.WaitGroup
	closed   chan struct{}
	closeOne sync.Once
}

const defaultQueueSize = 256

// NewKafkaProducer creates a producer writing to the given brokers.
func NewKafkaProducer(brokers []string, log *logrus.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return newProducer(w, log)
}

func newProducer(w writer, log *logrus.Logger) *KafkaProducer {
	p := &KafkaProducer{
		writer:  w,
		queue:   make(chan kafka.Message, defaultQueueSize),
		log:     log,
		timeout: 10 * time.Second,
		closed:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.flush()
	return p
}

// Emit enqueues an event. The payload is marshalled to JSON; marshalling
// failures and a full queue are logged and dropped.
func (p *KafkaProducer) Emit(topic string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.log.WithError(err).WithField("topic", topic).Warn("failed to marshal event payload")
		return
	}

	msg := kafka.Message{
		Topic: topic,
		Value: body,
		Time:  time.Now().UTC(),
	}

	select {
	case p.queue <- msg:
	default:
		droppedEvents.WithLabelValues(topic).Inc()
		p.log.WithField("topic", topic).Warn("event queue full, dropping event")
	}
}

func (p *KafkaProducer) flush() {
	defer p.wg.Done()
	for {
		select {
		case msg := <-p.queue:
			p.write(msg)
		case <-p.closed:
			// Drain what is already queued before returning.
			for {
				select {
				case msg := <-p.queue:
					p.write(msg)
				default:
					return
				}
			}
		}
	}
}

func (p *KafkaProducer) write(msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		publishErrors.WithLabelValues(msg.Topic).Inc()
		p.log.WithError(err).WithField("topic", msg.Topic).Error("failed to publish event")
		return
	}
	publishedEvents.WithLabelValues(msg.Topic).Inc()
}

// Close stops the flusher after draining queued events.
func (p *KafkaProducer) Close() error {
	p.closeOne.Do(func() { close(p.closed) })
	p.wg.Wait()
	return p.writer.Close()
}

// NopProducer discards all events. Used in tests and when no brokers are
// configured.
type NopProducer struct{}

func (NopProducer) Emit(string, interface{}) {}
