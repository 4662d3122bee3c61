package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

// KafkaPublisher mirrors bus events onto a Kafka topic for out-of-process
// collaborators. Publishing never blocks the emitting path: when the local
// queue is full the event is dropped.
type KafkaPublisher struct {
	topic   string
	queue   chan Event
	prod    sarama.AsyncProducer
	log     *slog.Logger
	stopped chan struct{}
}

func NewKafkaPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*KafkaPublisher, error) {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}

	p := &KafkaPublisher{
		topic:   topic,
		queue:   make(chan Event, queueSize),
		prod:    prod,
		log:     log,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.queue {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Warn("events: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(string(ev.Kind)),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn("events: producer", "err", err)
			}
		}
	}()

	return p, nil
}

// Handler returns a bus handler feeding this publisher.
func (p *KafkaPublisher) Handler() Handler {
	return func(ev Event) {
		select {
		case p.queue <- ev:
		default:
			// queue full, drop rather than stall the emitter
		}
	}
}

func (p *KafkaPublisher) Close() error {
	close(p.queue)
	<-p.stopped
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
