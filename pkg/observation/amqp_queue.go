package observation

import (
	"context"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/streadway/amqp"
	"time"
)

const RcvObservationQueue = "RcvObservationQueue"

// amqpChannel is the subset of *amqp.Channel the queue relies on.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type AMQPQueue struct {
	channel amqpChannel
	name    string
}

func DialAMQP(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect to RabbitMQ")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "open a channel")
	}
	return conn, ch, nil
}

func NewAMQPQueue(channel amqpChannel, name string) (*AMQPQueue, error) {
	if name == "" {
		name = RcvObservationQueue
	}
	_, err := channel.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, errors.Wrapf(err, "declare queue %s", name)
	}
	return &AMQPQueue{channel: channel, name: name}, nil
}

func (q *AMQPQueue) Publish(_ context.Context, body []byte) error {
	err := q.channel.Publish(
		"",
		q.name,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	return errors.Wrap(err, "publish")
}

func (q *AMQPQueue) Consume(ctx context.Context) (<-chan []byte, error) {
	deliveries, err := q.channel.Consume(
		q.name,
		"",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, errors.Wrap(err, "consume")
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case out <- d.Body:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *AMQPQueue) Close() error {
	return q.channel.Close()
}
