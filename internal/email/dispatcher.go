package email

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/metrics"
)

type message struct {
	to, subject, body string
}

// Dispatcher is a bounded mail queue in front of a Sender.  Notify never
// blocks: when the queue is full the mail is dropped and logged.  Delivery
// errors are logged and never reach the caller.
type Dispatcher struct {
	sender  Sender
	log     *zap.Logger
	queue   chan message
	workers int
	timeout time.Duration

	startOnce sync.Once
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
}

// NewDispatcher builds a dispatcher with room for size queued mails.
func NewDispatcher(sender Sender, size, workers int, log *zap.Logger) *Dispatcher {
	if size < 1 {
		size = 100
	}
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		sender:  sender,
		log:     log,
		queue:   make(chan message, size),
		workers: workers,
		timeout: 30 * time.Second,
	}
}

// Start launches the delivery workers.  Calling it again is a no-op.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.work()
		}
	})
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for m := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sender.Send(ctx, m.to, m.subject, m.body)
		cancel()
		if err != nil {
			metrics.RecordMail("failed")
			d.log.Error("mail delivery failed", zap.String("to", m.to), zap.String("subject", m.subject), zap.Error(err))
			continue
		}
		metrics.RecordMail("sent")
	}
}

// Notify enqueues a mail.
func (d *Dispatcher) Notify(to, subject, htmlBody string) {
	d.Start()
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.RecordMail("dropped")
		d.log.Warn("mail dropped, dispatcher closed", zap.String("to", to), zap.String("subject", subject))
		return
	}
	select {
	case d.queue <- message{to: to, subject: subject, body: htmlBody}:
	default:
		metrics.RecordMail("dropped")
		d.log.Warn("mail dropped, queue full", zap.String("to", to), zap.String("subject", subject))
	}
}

// Close stops accepting mail and waits for the queue to drain or ctx to
// end, whichever comes first.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
