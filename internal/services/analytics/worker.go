package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

const writeTimeout = 10 * time.Second

type recordTask struct {
	session models.BillingSession
	debit   *models.DebitResult
}

// Worker moves sink writes off the request path. It implements Sink itself,
// so the billing engine does not know whether writes are queued.
type Worker struct {
	sink     Sink
	tasks    chan recordTask
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

// NewWorker starts poolSize goroutines draining a queue of bufferSize tasks.
func NewWorker(sink Sink, poolSize, bufferSize int) *Worker {
	if poolSize <= 0 {
		poolSize = 1
	}
	w := &Worker{
		sink:  sink,
		tasks: make(chan recordTask, bufferSize),
	}
	for range poolSize {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

// RecordSession queues the write. A full buffer drops the row: analytics
// must never hold up billing.
func (w *Worker) RecordSession(_ context.Context, session models.BillingSession, debit *models.DebitResult) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		fiberlog.Warnf("analytics worker stopped, dropping session %s", session.ID)
		return nil
	}

	select {
	case w.tasks <- recordTask{session: session, debit: debit}:
	default:
		fiberlog.Warnf("analytics buffer full, dropping session %s", session.ID)
	}
	return nil
}

func (w *Worker) run() {
	defer w.wg.Done()

	for task := range w.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := w.sink.RecordSession(ctx, task.session, task.debit); err != nil {
			fiberlog.Errorf("failed to record session %s for analytics: %v", task.session.ID, err)
		}
		cancel()
	}
}

// Stop flushes queued tasks and waits for the pool to exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		close(w.tasks)
		w.mu.Unlock()
		w.wg.Wait()
	})
}
