package broker

import (
	"github.com/andreikom/ac-observator/pkg/models"
	"sync/atomic"
)

const subscriberBuffer = 256

// Broker fans observed values out to live subscribers. A subscriber that
// does not keep up loses messages instead of blocking the publisher.
type Broker struct {
	subCount  atomic.Int64
	dropCount atomic.Uint64

	stopCh    chan struct{}
	publishCh chan models.ObservedValue
	subCh     chan chan models.ObservedValue
	unsubCh   chan chan models.ObservedValue
}

func NewBroker() *Broker {
	return &Broker{
		stopCh:    make(chan struct{}),
		publishCh: make(chan models.ObservedValue, 64),
		subCh:     make(chan chan models.ObservedValue, 1),
		unsubCh:   make(chan chan models.ObservedValue, 1),
	}
}

func (b *Broker) Start() {
	subs := map[chan models.ObservedValue]struct{}{}
	for {
		select {
		case <-b.stopCh:
			for msgCh := range subs {
				close(msgCh)
			}
			b.subCount.Store(0)
			return
		case msgCh := <-b.subCh:
			subs[msgCh] = struct{}{}
			b.subCount.Store(int64(len(subs)))
		case msgCh := <-b.unsubCh:
			if _, ok := subs[msgCh]; ok {
				delete(subs, msgCh)
				close(msgCh)
			}
			b.subCount.Store(int64(len(subs)))
		case msg := <-b.publishCh:
			for msgCh := range subs {
				select {
				case msgCh <- msg:
				default:
					b.dropCount.Add(1)
				}
			}
		}
	}
}

func (b *Broker) Stop() {
	close(b.stopCh)
}

func (b *Broker) Subscribe() chan models.ObservedValue {
	msgCh := make(chan models.ObservedValue, subscriberBuffer)
	select {
	case b.subCh <- msgCh:
	case <-b.stopCh:
		close(msgCh)
	}
	return msgCh
}

// Unsubscribe closes msgCh once the broker has forgotten it.
func (b *Broker) Unsubscribe(msgCh chan models.ObservedValue) {
	select {
	case b.unsubCh <- msgCh:
	case <-b.stopCh:
	}
}

func (b *Broker) Publish(msg models.ObservedValue) {
	select {
	case b.publishCh <- msg:
	case <-b.stopCh:
	}
}

func (b *Broker) SubCount() int {
	return int(b.subCount.Load())
}

func (b *Broker) DropCount() int {
	return int(b.dropCount.Load())
}

type Publisher interface {
	Publish(msg models.ObservedValue)
}
