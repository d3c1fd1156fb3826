// Package queue carries outbound mail over RabbitMQ so that delivery can
// run in a separate mail-worker process.
package queue

import "time"

// MailQueueName is the durable queue between the API and the mail worker.
// Failed sends wait on MailRetryQueueName; exhausted ones land on
// MailDeadQueueName.
const (
	MailQueueName      = "auth.mail"
	MailRetryQueueName = "auth.mail.retry"
	MailDeadQueueName  = "auth.mail.dead"
)

// MailEvent is one message to deliver.
type MailEvent struct {
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	HTMLBody   string    `json:"html_body"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
