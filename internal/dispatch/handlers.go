package dispatch

import (
	"context"
	"errors"

	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/queue"
)

// ErrEmailNotSent is returned by the send_email job when the transport
// rejected the message.
var ErrEmailNotSent = errors.New("dispatch: email not sent")

// Handlers returns the job handlers for every kind. rescanAll runs one
// scheduler tick and backs the rescan_all job.
func Handlers(n *Notificator, rescanAll func(ctx context.Context) error) queue.Handlers {
	return queue.Handlers{
		queue.KindSendEmail: func(ctx context.Context, job queue.Job) error {
			p, err := decode[queue.EmailPayload](job)
			if err != nil {
				return err
			}
			if !n.SendEmail(ctx, p.To, p.Text) {
				return ErrEmailNotSent
			}
			return nil
		},
		queue.KindSendImmediate: func(ctx context.Context, job queue.Job) error {
			p, err := decode[queue.ImmediatePayload](job)
			if err != nil {
				return err
			}
			_, err = n.SendImmediate(ctx, p.UserUUID, p.Text)
			return err
		},
		queue.KindSendPending: func(ctx context.Context, job queue.Job) error {
			p, err := decode[queue.PendingPayload](job)
			if err != nil {
				return err
			}
			_, err = n.SendPending(ctx, p.UserUUID, p.Text, models.PriorityPendingSingleUser, nil)
			return err
		},
		queue.KindSendToUserList: func(ctx context.Context, job queue.Job) error {
			p, err := decode[queue.UserListPayload](job)
			if err != nil {
				return err
			}
			_, err = n.SendToUserList(ctx, p.UserUUIDs, p.Text)
			return err
		},
		queue.KindSendToAllUsers: func(ctx context.Context, job queue.Job) error {
			p, err := decode[queue.AllUsersPayload](job)
			if err != nil {
				return err
			}
			_, err = n.SendToAllUsers(ctx, p.Text)
			return err
		},
		queue.KindRescanBatch: func(ctx context.Context, job queue.Job) error {
			p, err := decode[queue.RescanPayload](job)
			if err != nil {
				return err
			}
			_, err = n.RescanBatch(ctx, p.MessageUUIDs)
			return err
		},
		queue.KindRescanAll: func(ctx context.Context, job queue.Job) error {
			return rescanAll(ctx)
		},
	}
}

func decode[T queue.Payload](job queue.Job) (T, error) {
	var zero T
	p, err := queue.Decode(job)
	if err != nil {
		return zero, err
	}
	v, ok := p.(T)
	if !ok {
		return zero, errors.New("dispatch: unexpected payload type")
	}
	return v, nil
}
