// Package memory provides an in-process broadcast medium for Radio tests and simulations.
package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/exepirit/classradio/pkg/classradio"
)

// Air connects endpoints tuned to the same channel. Every packet sent by one
// endpoint is queued on all the others, each copy lost with probability LossRate.
type Air struct {
	LossRate float64
	Settings classradio.RadioSettings

	mu        sync.Mutex
	endpoints []*Endpoint
}

// NewAir returns a lossless medium using the default radio settings.
func NewAir() *Air {
	return &Air{Settings: classradio.DefaultRadioSettings}
}

// Endpoint attaches a new radio tuned to the default channel.
func (a *Air) Endpoint(name string) *Endpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	e := &Endpoint{
		Name:    name,
		air:     a,
		channel: a.Settings.Channel,
		rx:      newRing(a.Settings.Queue),
	}
	a.endpoints = append(a.endpoints, e)
	return e
}

func (a *Air) deliver(from *Endpoint, channel uint8, packet []byte) {
	a.mu.Lock()
	targets := make([]*Endpoint, 0, len(a.endpoints))
	for _, e := range a.endpoints {
		if e != from {
			targets = append(targets, e)
		}
	}
	loss := a.LossRate
	a.mu.Unlock()

	for _, e := range targets {
		if loss > 0 && rand.Float64() < loss {
			continue
		}
		e.enqueue(channel, packet)
	}
}

var _ classradio.Radio = &Endpoint{}

// Endpoint is one radio on the Air.
type Endpoint struct {
	Name string

	air     *Air
	mu      sync.Mutex
	channel uint8
	rx      *ring
	sent    [][]byte
	tunes   []uint8
}

func (e *Endpoint) Tune(channel uint8) error {
	if channel > classradio.MaxChannel {
		return fmt.Errorf("channel %d above %d", channel, classradio.MaxChannel)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channel = channel
	e.rx.clear()
	e.tunes = append(e.tunes, channel)
	return nil
}

func (e *Endpoint) Send(ctx context.Context, packet []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(packet) > e.air.Settings.Length {
		return fmt.Errorf("packet of %d bytes exceeds %d", len(packet), e.air.Settings.Length)
	}

	frame := make([]byte, len(packet))
	copy(frame, packet)

	e.mu.Lock()
	e.sent = append(e.sent, frame)
	channel := e.channel
	e.mu.Unlock()

	e.air.deliver(e, channel, frame)
	return nil
}

func (e *Endpoint) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	frame, ok := e.rx.pop()
	if !ok {
		return nil, classradio.ErrEmptyQueue
	}
	return frame, nil
}

func (e *Endpoint) enqueue(channel uint8, packet []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if channel != e.channel {
		return
	}
	e.rx.push(packet)
}

// Inject queues packet as if it had been received on the current channel.
func (e *Endpoint) Inject(packet []byte) {
	frame := make([]byte, len(packet))
	copy(frame, packet)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rx.push(frame)
}

// Sent returns a copy of every packet sent so far.
func (e *Endpoint) Sent() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.sent))
	for i, p := range e.sent {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

// Tunes returns the channels passed to Tune, in order.
func (e *Endpoint) Tunes() []uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uint8(nil), e.tunes...)
}

// ring is a bounded FIFO dropping the oldest packet when full.
type ring struct {
	data       [][]byte
	head, tail int // head = next pop, tail = next push
	count      int
}

func newRing(capacity int) *ring {
	return &ring{data: make([][]byte, max(capacity, 1))}
}

func (rb *ring) push(frame []byte) {
	capacity := len(rb.data)
	if rb.count == capacity {
		rb.data[rb.tail] = nil
		rb.head = (rb.head + 1) % capacity
		rb.count--
	}
	rb.data[rb.tail] = frame
	rb.tail = (rb.tail + 1) % capacity
	rb.count++
}

func (rb *ring) pop() ([]byte, bool) {
	if rb.count == 0 {
		return nil, false
	}
	frame := rb.data[rb.head]
	rb.data[rb.head] = nil
	rb.head = (rb.head + 1) % len(rb.data)
	rb.count--
	return frame, true
}

func (rb *ring) clear() {
	for i := range rb.data {
		rb.data[i] = nil
	}
	rb.head, rb.tail, rb.count = 0, 0, 0
}
