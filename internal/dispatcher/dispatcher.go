// Package dispatcher fans every room command out to one of a fixed number
// of single-consumer FIFO shards, keyed by room id (spec §4.1, §5). Commands
// for the same room always land on the same shard and execute strictly in
// arrival order; commands for different rooms run concurrently across
// shards.
package dispatcher

import (
	"context"
	"hash/fnv"
	"runtime"
	"sync"

	"github.com/CoreLoopStudios-Org/GameService/internal/apperr"
)

// ShardMultiplier controls how many shards are created per available
// processor (spec §5: "N = processorCount * 2").
const ShardMultiplier = 2

// QueueDepth is the buffered capacity of each shard's channel. A full shard
// rejects new work immediately rather than blocking the caller (spec §5,
// "bounded queues, no unbounded backlog").
const QueueDepth = 256

// Task is a unit of work queued against a room's shard.
type Task func()

// Dispatcher owns N single-consumer goroutines, each draining its own FIFO
// channel of Tasks.
type Dispatcher struct {
	shards []chan Task
	wg     sync.WaitGroup

	closeOnce sync.Once
	done      chan struct{}
}

// New builds a Dispatcher with processorCount*ShardMultiplier shards. If
// processorCount <= 0, runtime.GOMAXPROCS(0) is used.
func New(processorCount int) *Dispatcher {
	if processorCount <= 0 {
		processorCount = runtime.GOMAXPROCS(0)
	}
	n := processorCount * ShardMultiplier
	if n < 1 {
		n = 1
	}
	d := &Dispatcher{
		shards: make([]chan Task, n),
		done:   make(chan struct{}),
	}
	for i := range d.shards {
		d.shards[i] = make(chan Task, QueueDepth)
		d.wg.Add(1)
		go d.run(d.shards[i])
	}
	return d
}

func (d *Dispatcher) run(ch chan Task) {
	defer d.wg.Done()
	for task := range ch {
		task()
	}
}

func (d *Dispatcher) shardFor(roomID string) chan Task {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomID))
	return d.shards[h.Sum32()%uint32(len(d.shards))]
}

// TryEnqueue queues task on roomId's shard without blocking, returning
// apperr.CodeSystemOverloaded if that shard's queue is full.
func (d *Dispatcher) TryEnqueue(roomID string, task Task) error {
	select {
	case <-d.done:
		return apperr.New(apperr.CodeSystemOverloaded, "dispatcher: shutting down")
	default:
	}
	select {
	case d.shardFor(roomID) <- task:
		return nil
	default:
		return apperr.New(apperr.CodeSystemOverloaded, "dispatcher: shard queue full for room "+roomID)
	}
}

// Dispatch queues task on roomId's shard, blocking until there is room or
// ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, roomID string, task Task) error {
	select {
	case d.shardFor(roomID) <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return apperr.New(apperr.CodeSystemOverloaded, "dispatcher: shutting down")
	}
}

// QueueDepths reports the current backlog of every shard, for metrics
// (spec §4.9, DispatcherQueueDepth).
func (d *Dispatcher) QueueDepths() []int {
	depths := make([]int, len(d.shards))
	for i, ch := range d.shards {
		depths[i] = len(ch)
	}
	return depths
}

// Shutdown closes every shard so its consumer drains remaining tasks and
// exits, then waits for all shards to finish, or ctx to expire first.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.closeOnce.Do(func() {
		close(d.done)
		for _, ch := range d.shards {
			close(ch)
		}
	})

	waited := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
