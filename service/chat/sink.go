package chat

import (
	"context"
	"sync"
	"time"

	"PPRoom/logger"
	"PPRoom/tools/safe"

	"go.uber.org/zap"
)

// Sinks forwards room events to every configured EventSink. Each sink has its
// own queue and goroutine so a slow bus never stalls a room, and events keep
// the order they were published in.
type Sinks struct {
	mu      sync.RWMutex
	closed  bool
	workers []*sinkWorker
	wg      sync.WaitGroup
}

type sinkWorker struct {
	sink    EventSink
	queue   chan RoomEvent
	timeout time.Duration
}

func NewSinks(queue int, timeout time.Duration, sinks ...EventSink) *Sinks {
	if queue <= 0 {
		queue = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Sinks{}
	for _, sk := range sinks {
		if sk == nil {
			continue
		}
		w := &sinkWorker{sink: sk, queue: make(chan RoomEvent, queue), timeout: timeout}
		s.workers = append(s.workers, w)
		s.wg.Add(1)
		safe.Go("sink-"+sk.Name(), func() {
			defer s.wg.Done()
			w.run()
		}, nil)
	}
	return s
}

func (s *Sinks) Len() int {
	if s == nil {
		return 0
	}
	return len(s.workers)
}

// Publish hands ev to every sink without blocking. Events are dropped, with a
// warning, when a sink's queue is full or the set is closed.
func (s *Sinks) Publish(ev RoomEvent) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	for _, w := range s.workers {
		select {
		case w.queue <- ev:
		default:
			logger.Log.Warn("[SINK] queue full, event dropped",
				zap.String("sink", w.sink.Name()),
				zap.Int64("room", int64(ev.Room)),
				zap.String("kind", string(ev.Kind)))
		}
	}
}

// Close stops accepting events and waits until queued ones are flushed or ctx ends.
func (s *Sinks) Close(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, w := range s.workers {
		close(w.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Log.Warn("[SINK] close timed out", zap.Error(ctx.Err()))
	}
}

func (w *sinkWorker) run() {
	for ev := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.sink.Publish(ctx, ev)
		cancel()
		if err != nil {
			logger.Log.Warn("[SINK] publish failed",
				zap.String("sink", w.sink.Name()),
				zap.Int64("room", int64(ev.Room)),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err))
		}
	}
}
