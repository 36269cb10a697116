package channel

import (
	"context"
	"fmt"

	"github.com/zulandar/signalbox/internal/models"
	"go.uber.org/zap"
)

// InAppName is the metrics label of the in-app channel.
const InAppName = "in_app"

// Notifier performs the conditional is_notified transition.
type Notifier interface {
	MarkNotified(ctx context.Context, messageUUID string) (bool, error)
}

// InApp is the in-app inbox channel. Delivering means flipping the stored
// message to notified; there is no external call.
type InApp struct {
	store  Notifier
	logger *zap.Logger
}

// NewInApp returns an in-app channel backed by store.
func NewInApp(store Notifier, logger *zap.Logger) *InApp {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InApp{store: store, logger: logger.Named("in-app")}
}

func (a *InApp) Name() string { return InAppName }

// Deliver marks msg notified if user accepts in-app messages. It returns
// true only when this call performed the transition; a concurrent caller
// that lost the race gets false and no error.
func (a *InApp) Deliver(ctx context.Context, user *models.User, msg *models.Message) (bool, error) {
	if !user.AcceptsInApp {
		Record(InAppName, StatusSkipped)
		return false, nil
	}

	won, err := a.store.MarkNotified(ctx, msg.UUID)
	if err != nil {
		Record(InAppName, StatusFailure)
		return false, fmt.Errorf("channel: in-app %s: %w", msg.UUID, err)
	}
	if !won {
		a.logger.Debug("Message already notified",
			zap.String("message", msg.UUID))
		Record(InAppName, StatusSkipped)
		return false, nil
	}

	a.logger.Debug("In-app message notified",
		zap.String("message", msg.UUID),
		zap.String("user", user.UUID))
	Record(InAppName, StatusSuccess)
	return true, nil
}
