// Package channel defines the delivery channels a notification can go out
// on and the bookkeeping shared by all of them.
package channel

import (
	"context"

	"github.com/zulandar/signalbox/internal/models"
)

// Sender delivers text to a user over one external channel. Send reports
// whether delivery succeeded; transport errors are logged and counted by the
// implementation and never returned.
type Sender interface {
	Name() string
	Send(ctx context.Context, user *models.User, text string) bool
}

// Status labels a single send attempt in metrics.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// Nop is a Sender that skips every user. It stands in for a channel that is
// not configured.
type Nop struct {
	Channel string
}

func (n Nop) Name() string { return n.Channel }

func (n Nop) Send(ctx context.Context, user *models.User, text string) bool {
	Record(n.Channel, StatusSkipped)
	return false
}
