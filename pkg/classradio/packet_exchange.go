package classradio

import (
	"context"
	"iter"
	"log/slog"
	"sync"
)

// EventPublisher implements part of the pubsub pattern allowing other parts of the system to subscribe and receive
// hub events.
type EventPublisher interface {
	Publish(event HostEvent)
}

var _ EventSink = &FanOutEventPublisher{}

// FanOutEventPublisher delivers every event to all subscribers concurrently and
// returns once each of them has handled it.
type FanOutEventPublisher struct {
	mu          sync.RWMutex
	Subscribers []EventSink
}

func (pub *FanOutEventPublisher) Subscribe(subscriber EventSink) {
	pub.mu.Lock()
	defer pub.mu.Unlock()
	pub.Subscribers = append(pub.Subscribers, subscriber)
}

func (pub *FanOutEventPublisher) Publish(event HostEvent) {
	pub.mu.RLock()
	subscribers := pub.Subscribers
	pub.mu.RUnlock()

	wg := sync.WaitGroup{}
	wg.Add(len(subscribers))
	for _, sub := range subscribers {
		go func() {
			defer wg.Done()
			sub.OnEvent(event)
		}()
	}
	wg.Wait()
}

// OnEvent lets the publisher itself be used as a hub's sink.
func (pub *FanOutEventPublisher) OnEvent(event HostEvent) {
	pub.Publish(event)
}

// PublishAll publishes every event of the stream until it ends or ctx is done.
func (pub *FanOutEventPublisher) PublishAll(ctx context.Context, events iter.Seq2[HostEvent, error]) {
	for event, err := range events {
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("Cannot read next event from stream", "error", err)
			continue
		}
		pub.Publish(event)
	}
}
