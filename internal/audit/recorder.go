// Package audit records security relevant account changes without making
// the request that caused them wait on, or fail because of, the write.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/metrics"
	"github.com/iliyamo/auth-service/internal/model"
)

// Writer persists one event (repository.AuditRepo).
type Writer interface {
	Insert(ctx context.Context, e model.AuditEvent) error
}

// Recorder is a bounded queue in front of a Writer.  Record never blocks;
// a full queue drops the event, and write errors are only logged.
type Recorder struct {
	w       Writer
	log     *zap.Logger
	queue   chan model.AuditEvent
	timeout time.Duration
	now     func() time.Time

	startOnce sync.Once
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
}

func NewRecorder(w Writer, size int, log *zap.Logger) *Recorder {
	if size < 1 {
		size = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		w:       w,
		log:     log,
		queue:   make(chan model.AuditEvent, size),
		timeout: 10 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the writer goroutine.  Calling it again is a no-op.
func (r *Recorder) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.work()
	})
}

func (r *Recorder) work() {
	defer r.wg.Done()
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.w.Insert(ctx, e)
		cancel()
		if err != nil {
			metrics.RecordAudit("failed")
			r.log.Error("audit write failed", zap.String("event", e.Event), zap.Stringp("user_id", e.UserID), zap.Error(err))
			continue
		}
		metrics.RecordAudit("written")
	}
}

// Record enqueues e, stamping CreatedAt when it is unset.
func (r *Recorder) Record(e model.AuditEvent) {
	r.Start()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		metrics.RecordAudit("dropped")
		r.log.Warn("audit event dropped, recorder closed", zap.String("event", e.Event))
		return
	}
	select {
	case r.queue <- e:
	default:
		metrics.RecordAudit("dropped")
		r.log.Warn("audit event dropped, queue full", zap.String("event", e.Event), zap.Stringp("user_id", e.UserID))
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to
// end.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
