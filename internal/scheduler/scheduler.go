package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Item is one scheduled retry. DeliveryID references the attempt row that
// failed; the fire callback creates the follow-up attempt
type Item struct {
	WebhookID  uuid.UUID
	DeliveryID uuid.UUID
	DueAt      time.Time
}

// FireFunc is invoked once an item's due time has elapsed. It runs on the
// scheduler goroutine and must hand real work off to the dispatch pool
type FireFunc func(Item)

// Scheduler owns the passage of time between attempts: a due-time ordered
// queue whose consumer blocks until the next item is due or a new item is
// inserted. Producers never block
type Scheduler struct {
	fire   FireFunc
	logger *zap.Logger

	mu    sync.Mutex
	queue itemHeap
	wake  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(fire FireFunc, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		fire:   fire,
		logger: logger,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches the consumer goroutine
func (s *Scheduler) Start() {
	go s.run()
}

// Stop cancels the consumer and waits for it to drain
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.done
}

// Schedule inserts a retry without blocking the producer
func (s *Scheduler) Schedule(item Item) {
	s.mu.Lock()
	heap.Push(&s.queue, item)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// CancelWebhook drops every pending retry for the webhook. Fired items that
// are already in flight are unaffected; the fire-time state check covers them
func (s *Scheduler) CancelWebhook(webhookID uuid.UUID) {
	s.mu.Lock()
	kept := s.queue[:0]
	dropped := 0
	for _, item := range s.queue {
		if item.WebhookID == webhookID {
			dropped++
			continue
		}
		kept = append(kept, item)
	}
	s.queue = kept
	heap.Init(&s.queue)
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Info("Cancelled pending retries for webhook",
			zap.String("webhook_id", webhookID.String()),
			zap.Int("dropped", dropped),
		)
	}
}

// Pending returns the number of scheduled retries
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.ctx.Done():
				return
			}
		}

		now := time.Now()
		next := s.queue[0]
		if !next.DueAt.After(now) {
			item := heap.Pop(&s.queue).(Item)
			s.mu.Unlock()
			s.fire(item)
			continue
		}
		wait := next.DueAt.Sub(now)
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wake:
			// an earlier item may have been inserted; re-evaluate
			timer.Stop()
		case <-s.ctx.Done():
			timer.Stop()
			return
		}
	}
}

type itemHeap []Item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return h[i].DueAt.Before(h[j].DueAt) }
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) {
	*h = append(*h, x.(Item))
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
