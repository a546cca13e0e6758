package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"inspection/internal/logger"
)

// KafkaPublisher emits inspection events to a Kafka topic. Delivery reports
// are consumed on a background goroutine so Publish never blocks on the
// broker.
type KafkaPublisher struct {
	producer     *kafka.Producer
	topic        string
	deliveryChan chan kafka.Event
	log          *logger.Logger

	sent   atomic.Int64
	acked  atomic.Int64
	failed atomic.Int64

	wg   sync.WaitGroup
	done chan struct{}
}

func NewKafkaPublisher(brokers, topic string, log *logger.Logger) (*KafkaPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"client.id":          "inspectiond",
		"acks":               "all",
		"request.timeout.ms": 30000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	p := &KafkaPublisher{
		producer:     producer,
		topic:        topic,
		deliveryChan: make(chan kafka.Event, 256),
		log:          log,
		done:         make(chan struct{}),
	}

	p.wg.Add(1)
	go p.handleDeliveryReports()

	log.Info("Kafka publisher initialized, topic %s, brokers %s", topic, brokers)
	return p, nil
}

func (p *KafkaPublisher) handleDeliveryReports() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case e := <-p.deliveryChan:
			m, ok := e.(*kafka.Message)
			if !ok {
				continue
			}
			if m.TopicPartition.Error != nil {
				p.failed.Add(1)
				p.log.Warning("Event delivery failed: %v", m.TopicPartition.Error)
			} else {
				p.acked.Add(1)
			}
		}
	}
}

// Publish enqueues one event. A full local queue is reported as an error;
// the caller's analysis result is already persisted and unaffected.
func (p *KafkaPublisher) Publish(ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(ev.SubjectID),
		Value:          payload,
		Headers:        []kafka.Header{{Key: "type", Value: []byte(ev.Type)}},
	}

	if err := p.producer.Produce(msg, p.deliveryChan); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	p.sent.Add(1)
	return nil
}

// Metrics returns counts of sent, acked and failed events.
func (p *KafkaPublisher) Metrics() (sent, acked, failed int64) {
	return p.sent.Load(), p.acked.Load(), p.failed.Load()
}

// Close flushes pending events and stops the delivery handler.
func (p *KafkaPublisher) Close() {
	remaining := p.producer.Flush(int((10 * time.Second).Milliseconds()))
	if remaining > 0 {
		p.log.Warning("%d events still queued after flush timeout", remaining)
	}
	close(p.done)
	p.wg.Wait()
	p.producer.Close()
	p.log.Info("Kafka publisher closed, sent %d, acked %d, failed %d",
		p.sent.Load(), p.acked.Load(), p.failed.Load())
}
