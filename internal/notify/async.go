package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tycoon/internal/domain"
	"tycoon/internal/metrics"
)

var ErrDropped = errors.New("notification queue full")

type job struct {
	ownerID string
	msg     domain.Message
}

// Async queues messages for a fixed pool of workers so a slow delivery
// never holds up the caller. A full queue drops the message.
type Async struct {
	next    domain.Notifier
	log     *slog.Logger
	timeout time.Duration
	queue   chan job

	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

func NewAsync(next domain.Notifier, queueSize, workers int, timeout time.Duration, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &Async{
		next:    next,
		log:     logger,
		timeout: timeout,
		queue:   make(chan job, queueSize),
	}
	a.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go a.worker()
	}
	return a
}

// Notify enqueues msg and returns immediately. The error is non-nil only
// when the message was dropped.
func (a *Async) Notify(_ context.Context, ownerID string, msg domain.Message) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		metrics.NotifyDropped.Inc()
		return ErrDropped
	}
	select {
	case a.queue <- job{ownerID: ownerID, msg: msg}:
		return nil
	default:
		metrics.NotifyDropped.Inc()
		return ErrDropped
	}
}

// Close stops accepting messages and waits for queued ones to be sent.
func (a *Async) Close() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	a.wg.Wait()
}

func (a *Async) worker() {
	defer a.wg.Done()
	for j := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Notify(ctx, j.ownerID, j.msg); err != nil {
			metrics.NotifyFailures.Inc()
			a.log.Warn("notification failed", "owner_id", j.ownerID, "kind", string(j.msg.Kind), "err", err)
		}
		cancel()
	}
}
