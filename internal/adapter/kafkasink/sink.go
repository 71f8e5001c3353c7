// Package kafkasink bridges the event stream to a Kafka topic for consumers
// outside the process. Delivery is best effort: a failed write is logged and
// the stream moves on.
package kafkasink

import (
	"context"
	"encoding/json"
	"net"
	"strconv"

	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/yanun0323/logs"

	"marketfeed/internal/event"
)

// Sink forwards bus events as JSON records keyed by symbol.
type Sink struct {
	writer   *kafkaGo.Writer
	consumer *event.Consumer
}

func New(brokerURL, topic string, consumer *event.Consumer) *Sink {
	return &Sink{
		writer: &kafkaGo.Writer{
			Addr:     kafkaGo.TCP(brokerURL),
			Topic:    topic,
			Balancer: &kafkaGo.LeastBytes{},
		},
		consumer: consumer,
	}
}

// EnsureTopic creates the topic on the controller broker when it does not
// exist yet.
func EnsureTopic(brokerURL, topic string) error {
	conn, err := kafkaGo.Dial("tcp", brokerURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafkaGo.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	return controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
}

// Run forwards events until the consumer queue is closed.
func (s *Sink) Run(ctx context.Context) {
	defer func() {
		_ = s.writer.Close()
	}()
	for {
		evt, ok := s.consumer.Next()
		if !ok {
			return
		}
		value, err := json.Marshal(evt)
		if err != nil {
			logs.Errorf("marshal event: %+v", err)
			continue
		}
		msg := kafkaGo.Message{
			Key:   []byte(evt.Symbol),
			Value: value,
		}
		if err := s.writer.WriteMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			logs.Errorf("write event to kafka: %+v", err)
		}
	}
}
