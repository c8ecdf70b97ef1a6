// Package notify is the outbound notification boundary. Workflows report
// state changes here; delivery happens out of band in the worker.
package notify

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/meridian-bank/meridian/jobs"
)

// Notifier delivers customer-facing notifications.
type Notifier interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// AsynqNotifier enqueues notification emails for the background worker.
type AsynqNotifier struct {
	client *asynq.Client
}

// NewAsynqNotifier constructs an AsynqNotifier.
func NewAsynqNotifier(client *asynq.Client) *AsynqNotifier {
	return &AsynqNotifier{client: client}
}

// SendEmail enqueues the email task.
func (n *AsynqNotifier) SendEmail(ctx context.Context, to, subject, body string) error {
	task, err := jobs.NewSendEmailTask(jobs.SendEmailPayload{To: to, Subject: subject, Body: body})
	if err != nil {
		return err
	}
	_, err = n.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault))
	return err
}

// NopNotifier discards notifications. Used in tests.
type NopNotifier struct{}

// SendEmail does nothing.
func (NopNotifier) SendEmail(ctx context.Context, to, subject, body string) error { return nil }

var (
	_ Notifier = (*AsynqNotifier)(nil)
	_ Notifier = NopNotifier{}
)
