package observation

import (
	"context"
	"encoding/json"
	"github.com/andreikom/ac-observator/pkg/models"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"strconv"
	"time"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards stored values to a topic keyed by sensor type.
type KafkaSink struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		timeout: 5 * time.Second,
	}
}

func (k *KafkaSink) Forward(ctx context.Context, v models.ObservedValue) error {
	value, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode observed value")
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(v.SensorTypeId, 10)),
		Value: value,
		Time:  v.CreatedAt,
	})
	return errors.Wrap(err, "write kafka message")
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
