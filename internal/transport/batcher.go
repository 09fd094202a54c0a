package transport

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/logwarden/internal/metrics"
)

const (
	defaultMaxBatch      = 100
	defaultFlushInterval = 2 * time.Second
	defaultQueueSize     = 1000
)

// BatcherConfig tunes the batching layer.
type BatcherConfig struct {
	// MaxBatch flushes as soon as this many records are pending.
	MaxBatch int
	// FlushInterval flushes pending records at least this often.
	FlushInterval time.Duration
	// QueueSize bounds the enqueue buffer. A full queue drops the record
	// rather than blocking the caller.
	QueueSize int
	// OnError observes delivery failures. Optional.
	OnError func(error)
}

// Batcher accumulates records and hands them to the underlying transport
// in size- or time-triggered batches. Enqueue never blocks: under
// sustained sink failure the queue fills and further records are shed,
// which is the correct failure mode for a log pipeline.
type Batcher struct {
	sink Transport
	cfg  BatcherConfig

	queue    chan Record
	flushReq chan chan struct{}

	mu      sync.Mutex
	dropped int64

	done     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewBatcher starts the background flush loop.
func NewBatcher(sink Transport, cfg BatcherConfig) *Batcher {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	b := &Batcher{
		sink:     sink,
		cfg:      cfg,
		queue:    make(chan Record, cfg.QueueSize),
		flushReq: make(chan chan struct{}),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go b.run()
	return b
}

// Enqueue queues one record for delivery. Returns false when the record
// was shed because the queue is full or the batcher is shut down.
func (b *Batcher) Enqueue(rec Record) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.queue <- rec:
		return true
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		return false
	}
}

// Dropped reports how many records were shed.
func (b *Batcher) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Flush delivers everything enqueued so far without waiting for the size
// or interval trigger, then pushes the sink's own buffering.
func (b *Batcher) Flush(ctx context.Context) error {
	req := make(chan struct{})
	select {
	case b.flushReq <- req:
	case <-b.stopped:
		// The loop already drained on shutdown; only the sink is left.
		return b.sink.Flush(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.sink.Flush(ctx)
}

// Shutdown stops intake, drains the queue into a final batch, and shuts
// down the sink.
func (b *Batcher) Shutdown(ctx context.Context) error {
	b.stopOnce.Do(func() { close(b.done) })

	select {
	case <-b.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.sink.Shutdown(ctx)
}

func (b *Batcher) run() {
	defer close(b.stopped)

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make([]Record, 0, b.cfg.MaxBatch)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = make([]Record, 0, b.cfg.MaxBatch)

		metrics.ObserveBatchSize(len(batch))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := b.sink.Send(ctx, batch)
		cancel()
		if err != nil {
			metrics.IncTransportError()
			if b.cfg.OnError != nil {
				b.cfg.OnError(err)
			}
		}
	}

	for {
		select {
		case rec := <-b.queue:
			pending = append(pending, rec)
			if len(pending) >= b.cfg.MaxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case req := <-b.flushReq:
			// Pull in anything enqueued before the Flush call, then hand
			// the batch to the sink before acknowledging.
			draining := true
			for draining {
				select {
				case rec := <-b.queue:
					pending = append(pending, rec)
				default:
					draining = false
				}
			}
			flush()
			close(req)
		case <-b.done:
			// Drain whatever made it into the queue before the stop.
			for {
				select {
				case rec := <-b.queue:
					pending = append(pending, rec)
					if len(pending) >= b.cfg.MaxBatch {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
