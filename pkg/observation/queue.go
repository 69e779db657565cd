package observation

import (
	"context"
	"github.com/pkg/errors"
	"sync"
)

var ErrQueueClosed = errors.New("queue closed")

// Queue decouples accepting a reading from storing it.
type Queue interface {
	Publish(ctx context.Context, body []byte) error
	Consume(ctx context.Context) (<-chan []byte, error)
	Close() error
}

// LocalQueue is an in-process Queue backed by a buffered channel.
type LocalQueue struct {
	messages  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewLocalQueue(size int) *LocalQueue {
	return &LocalQueue{
		messages: make(chan []byte, size),
		done:     make(chan struct{}),
	}
}

func (q *LocalQueue) Publish(ctx context.Context, body []byte) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.messages <- body:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *LocalQueue) Consume(_ context.Context) (<-chan []byte, error) {
	return q.messages, nil
}

func (q *LocalQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
