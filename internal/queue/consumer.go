package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Deliverer sends a decoded mail; email.SMTPSender satisfies it.
type Deliverer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// errUndecodable marks a payload that no retry can fix.
var errUndecodable = errors.New("undecodable mail event")

// attemptsHeader counts failed deliveries of a message.
const attemptsHeader = "x-attempts"

// Rerouter is the part of *amqp.Channel used to move failed mail.
type Rerouter interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Consumer drains MailQueueName into a Deliverer.  A failed send is parked
// on MailRetryQueueName for a growing delay and comes back; after
// MaxAttempts failures it moves to MailDeadQueueName.  Payloads that do
// not decode are dropped.
type Consumer struct {
	url      string
	deliver  Deliverer
	log      *zap.Logger
	prefetch int

	MaxAttempts int
	RetryDelay  time.Duration // doubled per attempt
}

func NewConsumer(url string, deliver Deliverer, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{url: url, deliver: deliver, log: log, prefetch: 20, MaxAttempts: 5, RetryDelay: 30 * time.Second}
}

// Run connects and consumes until ctx is cancelled, reconnecting with a
// capped exponential backoff whenever the broker goes away.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("mail consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("mail consumer: consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.log.Warn("mail consumer: set QoS failed", zap.Error(err))
	}
	if err := declareMailQueues(ch); err != nil {
		return err
	}
	msgs, err := ch.Consume(MailQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.process(ctx, ch, d)
		}
	}
}

func declareMailQueues(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(MailQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	// Expired retries dead-letter back onto the main queue.
	if _, err := ch.QueueDeclare(MailRetryQueueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": MailQueueName,
	}); err != nil {
		return fmt.Errorf("retry queue declare: %w", err)
	}
	if _, err := ch.QueueDeclare(MailDeadQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("dead letter queue declare: %w", err)
	}
	return nil
}

// process delivers d and settles it.  Exactly one of Ack or Nack is
// called.
func (c *Consumer) process(ctx context.Context, pub Rerouter, d amqp.Delivery) {
	err := c.handle(ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}
	if errors.Is(err, errUndecodable) {
		c.log.Error("mail consumer: dropping undecodable message", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	attempts := attemptsOf(d.Headers) + 1
	msg := amqp.Publishing{
		Headers:      amqp.Table{attemptsHeader: int32(attempts)},
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    d.Timestamp,
		Body:         d.Body,
	}
	target := MailRetryQueueName
	if attempts >= c.MaxAttempts {
		target = MailDeadQueueName
		c.log.Error("mail consumer: giving up, moved to dead letter queue", zap.Int("attempts", attempts), zap.Error(err))
	} else {
		delay := c.retryDelay(attempts)
		msg.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
		c.log.Warn("mail consumer: delivery failed, will retry", zap.Int("attempts", attempts), zap.Duration("retry_in", delay), zap.Error(err))
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if perr := pub.PublishWithContext(pubCtx, "", target, false, false, msg); perr != nil {
		c.log.Error("mail consumer: reroute failed, requeueing", zap.String("queue", target), zap.Error(perr))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func (c *Consumer) retryDelay(attempts int) time.Duration {
	d := c.RetryDelay
	if d <= 0 {
		d = 30 * time.Second
	}
	for i := 1; i < attempts && d < time.Hour; i++ {
		d *= 2
	}
	return min(d, time.Hour)
}

func attemptsOf(h amqp.Table) int {
	switch v := h[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	ev, err := DecodeMailEvent(body)
	if err != nil {
		return errors.Join(errUndecodable, err)
	}
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return c.deliver.Send(sendCtx, ev.To, ev.Subject, ev.HTMLBody)
}

// DecodeMailEvent parses a queue payload and rejects events with no
// recipient.
func DecodeMailEvent(body []byte) (MailEvent, error) {
	var ev MailEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return MailEvent{}, fmt.Errorf("unmarshal: %w", err)
	}
	if ev.To == "" {
		return MailEvent{}, errors.New("mail event without recipient")
	}
	return ev, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
