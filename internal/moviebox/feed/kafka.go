package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/pocketscreen/mobile-services/internal/moviebox/observability"
)

// KafkaSink forwards feed events to a Kafka topic for downstream consumers.
// Delivery is asynchronous and best-effort: failures are logged and counted,
// never surfaced back to the publisher.
type KafkaSink struct {
	producer sarama.AsyncProducer
	topic    string
	feed     *Feed
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewKafkaSink connects an async producer to the brokers. Messages are keyed
// by movie ID, so all events for one movie stay on one partition, in order.
func NewKafkaSink(brokers []string, topic string, f *Feed, logger *zap.Logger) (*KafkaSink, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create async producer: %w", err)
	}
	return newKafkaSink(producer, topic, f, logger), nil
}

// newKafkaSink wires an existing producer; tests inject a mock here.
func newKafkaSink(producer sarama.AsyncProducer, topic string, f *Feed, logger *zap.Logger) *KafkaSink {
	s := &KafkaSink{
		producer: producer,
		topic:    topic,
		feed:     f,
		logger:   logger.Named("kafka"),
	}
	s.wg.Add(1)
	go s.drainErrors()
	return s
}

// Run forwards feed events to Kafka until ctx is canceled.
func (s *KafkaSink) Run(ctx context.Context) {
	events, cancel := s.feed.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.publish(event)
		}
	}
}

func (s *KafkaSink) publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal event", zap.Error(err))
		return
	}
	s.producer.Input() <- &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(event.Movie.ID, 10)),
		Value: sarama.ByteEncoder(payload),
	}
	observability.KafkaPublishedTotal.Inc()
}

// drainErrors consumes async delivery failures. The channel closes when the
// producer does, which ends the goroutine.
func (s *KafkaSink) drainErrors() {
	defer s.wg.Done()
	for err := range s.producer.Errors() {
		observability.KafkaPublishErrorsTotal.Inc()
		s.logger.Error("failed to write event to kafka", zap.Error(err))
	}
}

// Close shuts the producer down, flushing buffered messages first.
func (s *KafkaSink) Close() error {
	if err := s.producer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	s.wg.Wait()
	return nil
}
