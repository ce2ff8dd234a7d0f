package ipc

import (
	"slices"

	"github.com/orizon-lang/kernelsim/internal/errors"
)

// Delivery records one item handed to a consumer.
type Delivery struct {
	PID  int    `json:"pid"`
	Item string `json:"item"`
}

// BufferStats summarizes a bounded buffer.
type BufferStats struct {
	Capacity         int   `json:"capacity"`
	Len              int   `json:"len"`
	Produced         int   `json:"produced"`
	Consumed         int   `json:"consumed"`
	BlockedProducers []int `json:"blocked_producers,omitempty"`
	BlockedConsumers []int `json:"blocked_consumers,omitempty"`
}

// Buffer is the bounded producer-consumer buffer guarded by the classic
// mutex/empty/full semaphore triple. A producer that finds the buffer full
// is parked with its item; the consumer that frees a slot completes the
// parked production. A parked consumer is likewise served by the producer
// that fills the buffer, and the item is recorded as a Delivery.
type Buffer struct {
	capacity int
	items    []string
	mutex    *Semaphore
	empty    *Semaphore
	full     *Semaphore

	parked     map[int]string
	deliveries []Delivery
	produced   int
	consumed   int
}

// NewBuffer creates a buffer holding at most capacity items.
func NewBuffer(capacity int, opts ...Option) (*Buffer, error) {
	if capacity < 1 {
		return nil, errors.InvalidConfig("buffer.capacity", "must be at least 1")
	}
	b := &Buffer{capacity: capacity, parked: make(map[int]string)}
	var err error
	if b.mutex, err = NewSemaphore("mutex", 1, opts...); err != nil {
		return nil, err
	}
	if b.empty, err = NewSemaphore("empty", capacity, opts...); err != nil {
		return nil, err
	}
	if b.full, err = NewSemaphore("full", 0, opts...); err != nil {
		return nil, err
	}
	return b, nil
}

// Produce appends item on behalf of pid. When the buffer is full pid is
// parked and ErrBlocked is returned; the item is added once a consumer
// frees a slot.
func (b *Buffer) Produce(pid int, item string) error {
	if _, ok := b.parked[pid]; ok {
		return errors.InvalidState("producer %d is already blocked", pid)
	}
	if !b.empty.Wait(pid) {
		b.parked[pid] = item
		return errors.Blocked(pid, b.empty.Name())
	}
	b.put(pid, item)
	return nil
}

// Consume removes the oldest item on behalf of pid. When the buffer is
// empty pid is parked and ErrBlocked is returned; the next produced item
// is delivered to it.
func (b *Buffer) Consume(pid int) (string, error) {
	if slices.Contains(b.full.waiting, pid) {
		return "", errors.InvalidState("consumer %d is already blocked", pid)
	}
	if !b.full.Wait(pid) {
		return "", errors.Blocked(pid, b.full.Name())
	}
	return b.take(pid), nil
}

func (b *Buffer) put(pid int, item string) {
	b.mutex.Wait(pid)
	b.items = append(b.items, item)
	b.produced++
	b.mutex.Signal()

	if consumer, ok := b.full.Signal(); ok {
		b.take(consumer)
	}
}

func (b *Buffer) take(pid int) string {
	b.mutex.Wait(pid)
	item := b.items[0]
	b.items = b.items[1:]
	b.consumed++
	b.deliveries = append(b.deliveries, Delivery{PID: pid, Item: item})
	b.mutex.Signal()

	if producer, ok := b.empty.Signal(); ok {
		parked := b.parked[producer]
		delete(b.parked, producer)
		b.put(producer, parked)
	}
	return item
}

// Items returns the buffered items, oldest first.
func (b *Buffer) Items() []string {
	return append([]string(nil), b.items...)
}

// Deliveries returns every consumed item in consumption order.
func (b *Buffer) Deliveries() []Delivery {
	return append([]Delivery(nil), b.deliveries...)
}

// Stats returns the buffer counters.
func (b *Buffer) Stats() BufferStats {
	return BufferStats{
		Capacity:         b.capacity,
		Len:              len(b.items),
		Produced:         b.produced,
		Consumed:         b.consumed,
		BlockedProducers: b.empty.Waiting(),
		BlockedConsumers: b.full.Waiting(),
	}
}
