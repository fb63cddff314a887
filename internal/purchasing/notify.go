package purchasing

import (
	"context"

	"github.com/suprimenta/suprimenta/jobs"
)

// AsynqNotifier dispatches rejection notices through the background queue.
type AsynqNotifier struct {
	client *jobs.Client
}

// NewAsynqNotifier constructs an AsynqNotifier.
func NewAsynqNotifier(client *jobs.Client) *AsynqNotifier {
	return &AsynqNotifier{client: client}
}

// NotifyRejection enqueues a rejection-notice task for asynchronous delivery.
func (n *AsynqNotifier) NotifyRejection(ctx context.Context, notice RejectionNotice) error {
	_, err := n.client.EnqueueRejectionNotice(ctx, jobs.RejectionNoticePayload{
		RequestID:     notice.RequestID,
		RequestNumber: notice.RequestNumber,
		Gate:          string(notice.Gate),
		Reason:        notice.Reason,
		NextPhase:     string(notice.NextPhase),
	})
	return err
}
