// Package dispatch turns notification requests into stored messages and
// channel deliveries, honoring each user's opt-ins and local delivery window.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/zulandar/signalbox/internal/channel"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/placeholder"
	"github.com/zulandar/signalbox/internal/store"
	"go.uber.org/zap"
)

// Clock returns the current time. Tests substitute a fixed one.
type Clock func() time.Time

// Store is the subset of the repository the engine uses.
type Store interface {
	CreateMessage(ctx context.Context, nm store.NewMessage) (*models.Message, error)
	GetMessage(ctx context.Context, messageUUID string) (*models.Message, error)
	MarkNotified(ctx context.Context, messageUUID string) (bool, error)
	ClaimMessage(ctx context.Context, messageUUID string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseMessage(ctx context.Context, messageUUID string) error
	GetUser(ctx context.Context, userUUID string) (*models.User, error)
	EachUser(ctx context.Context, batchSize int, fn func(*models.User) error) error
}

// Renderer substitutes placeholders for a recipient.
type Renderer interface {
	Render(ctx context.Context, userUUID, text string) (string, error)
}

// Gate decides whether a timezone is inside the delivery window at now.
type Gate interface {
	Available(tzLabel string, now time.Time) (bool, error)
}

// EmailSender is the email channel, which can also mail a bare address.
type EmailSender interface {
	channel.Sender
	SendTo(ctx context.Context, address, text string) bool
}

// InAppChannel finalizes a stored message for its recipient.
type InAppChannel interface {
	Deliver(ctx context.Context, user *models.User, msg *models.Message) (bool, error)
}

// Options wires a Notificator.
type Options struct {
	Store    Store
	Resolver Renderer
	Gate     Gate
	Email    EmailSender
	IM       channel.Sender
	InApp    InAppChannel
	Clock    Clock
	Logger   *zap.Logger
	// BatchSize bounds how many users are loaded at once for broadcasts.
	BatchSize int
	// ClaimTTL is how long a send claim on a message blocks other
	// dispatchers before it may be taken over.
	ClaimTTL time.Duration
}

// DefaultClaimTTL is used when Options.ClaimTTL is zero.
const DefaultClaimTTL = 10 * time.Minute

// Notificator is the dispatch engine.
type Notificator struct {
	store     Store
	resolver  Renderer
	gate      Gate
	email     EmailSender
	im        channel.Sender
	inApp     InAppChannel
	now       Clock
	logger    *zap.Logger
	batchSize int
	claimTTL  time.Duration
}

// New validates opts and returns a Notificator.
func New(opts Options) (*Notificator, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("dispatch: store is required")
	case opts.Resolver == nil:
		return nil, errors.New("dispatch: resolver is required")
	case opts.Gate == nil:
		return nil, errors.New("dispatch: gate is required")
	case opts.Email == nil:
		return nil, errors.New("dispatch: email sender is required")
	case opts.InApp == nil:
		return nil, errors.New("dispatch: in-app channel is required")
	}
	if opts.IM == nil {
		opts.IM = channel.Nop{Channel: "im"}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = DefaultClaimTTL
	}
	return &Notificator{
		store:     opts.Store,
		resolver:  opts.Resolver,
		gate:      opts.Gate,
		email:     opts.Email,
		im:        opts.IM,
		inApp:     opts.InApp,
		now:       opts.Clock,
		logger:    opts.Logger.Named("dispatch"),
		batchSize: opts.BatchSize,
		claimTTL:  opts.ClaimTTL,
	}, nil
}

type delivery int

const (
	deliveryDeferred delivery = iota
	deliverySent
	// deliveryBusy means another dispatcher holds the claim on the message.
	deliveryBusy
)

// deliver sends text to user over every external channel and then
// finalizes msg in-app. With enforceWindow, nothing happens outside the
// user's delivery window. A stored msg is claimed before any channel fires,
// so concurrent dispatchers send it at most once. msg may be nil when there
// is no stored message to finalize.
func (n *Notificator) deliver(ctx context.Context, user *models.User, msg *models.Message, text string, enforceWindow bool) (delivery, error) {
	if enforceWindow {
		ok, err := n.gate.Available(user.Timezone, n.now())
		if err != nil {
			return deliveryDeferred, fmt.Errorf("dispatch: user %s: %w", user.UUID, err)
		}
		if !ok {
			return deliveryDeferred, nil
		}
	}

	if msg == nil {
		n.sendExternal(ctx, user, text)
		return deliverySent, nil
	}

	claimed, err := n.store.ClaimMessage(ctx, msg.UUID, n.now(), n.claimTTL)
	if err != nil {
		return deliveryDeferred, fmt.Errorf("dispatch: claim %s: %w", msg.UUID, err)
	}
	if !claimed {
		return deliveryBusy, nil
	}

	sent := n.sendExternal(ctx, user, text)
	done, err := n.finalize(ctx, user, msg, sent)
	if err != nil || !done {
		if rerr := n.store.ReleaseMessage(ctx, msg.UUID); rerr != nil {
			n.logger.Warn("Message claim release failed",
				zap.String("message", msg.UUID), zap.Error(rerr))
		}
	}
	if err != nil {
		return deliveryDeferred, err
	}
	if !done {
		return deliveryDeferred, nil
	}
	return deliverySent, nil
}

// sendExternal runs the email and IM attempts concurrently and reports
// whether either succeeded. A panic in one sender is logged and does not
// affect the other.
func (n *Notificator) sendExternal(ctx context.Context, user *models.User, text string) bool {
	var emailOK, imOK bool
	var wg conc.WaitGroup
	wg.Go(func() { emailOK = n.email.Send(ctx, user, text) })
	wg.Go(func() { imOK = n.im.Send(ctx, user, text) })
	if r := wg.WaitAndRecover(); r != nil {
		n.logger.Error("Channel sender panicked",
			zap.String("user", user.UUID),
			zap.String("panic", r.String()))
	}
	return emailOK || imOK
}

// finalize flips msg to notified. For users who opted out of in-app
// messages the flip needs an external success, unless no external channel
// is enabled for them at all.
func (n *Notificator) finalize(ctx context.Context, user *models.User, msg *models.Message, sent bool) (bool, error) {
	won, err := n.inApp.Deliver(ctx, user, msg)
	if err != nil {
		return false, err
	}
	if won || user.AcceptsInApp {
		return won, nil
	}
	if !sent && externalEnabled(user) {
		return false, nil
	}
	settled, err := n.store.MarkNotified(ctx, msg.UUID)
	if err != nil {
		return false, fmt.Errorf("dispatch: settle %s: %w", msg.UUID, err)
	}
	return settled, nil
}

func externalEnabled(user *models.User) bool {
	return (user.AcceptsEmail && user.Email != "") ||
		(user.AcceptsInstantMessage && user.IMHandle != "")
}

// SendImmediate delivers text to the user right away, ignoring the delivery
// window, and records a notified inbox message if the user accepts in-app.
func (n *Notificator) SendImmediate(ctx context.Context, userUUID, text string) (*models.Message, error) {
	rendered, err := n.resolver.Render(ctx, userUUID, text)
	if err != nil {
		return nil, err
	}
	user, err := n.store.GetUser(ctx, userUUID)
	if err != nil {
		return nil, err
	}

	if _, err := n.deliver(ctx, user, nil, rendered, false); err != nil {
		return nil, err
	}
	if !user.AcceptsInApp {
		observe("immediate", outcomeDelivered)
		return nil, nil
	}

	msg, err := n.store.CreateMessage(ctx, store.NewMessage{
		ToUserUUID: user.UUID,
		Text:       rendered,
		Priority:   models.PriorityImmediateSingleUser,
		IsNotified: true,
	})
	if err != nil {
		return nil, err
	}
	observe("immediate", outcomeDelivered)
	return msg, nil
}

// SendPending records a pending message and delivers it at once if the user
// is inside their delivery window. user may be passed when the caller has
// already loaded it. The returned message reflects the final notified state.
func (n *Notificator) SendPending(ctx context.Context, userUUID, text string, priority models.MessagePriority, user *models.User) (*models.Message, error) {
	rendered, err := n.resolver.Render(ctx, userUUID, text)
	if err != nil {
		return nil, err
	}
	if user == nil {
		if user, err = n.store.GetUser(ctx, userUUID); err != nil {
			return nil, err
		}
	}

	msg, err := n.store.CreateMessage(ctx, store.NewMessage{
		ToUserUUID: user.UUID,
		Text:       rendered,
		Priority:   priority,
	})
	if err != nil {
		return nil, err
	}

	d, err := n.deliver(ctx, user, msg, rendered, true)
	if err != nil {
		observe("pending", outcomeFailed)
		return msg, err
	}
	if d == deliverySent {
		msg.IsNotified = true
		observe("pending", outcomeDelivered)
	} else {
		observe("pending", outcomeDeferred)
	}
	return msg, nil
}

// SendToUserList creates a filtered-group pending message for each user.
// A failing recipient is logged and recorded; it never stops the others.
func (n *Notificator) SendToUserList(ctx context.Context, userUUIDs []string, text string) (BatchResult, error) {
	if err := placeholder.Validate(text); err != nil {
		return BatchResult{}, err
	}

	var res BatchResult
	for _, id := range userUUIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		msg, err := n.SendPending(ctx, id, text, models.PriorityPendingFilteredGroup, nil)
		res.add(id, msg, err)
		if err != nil {
			n.logger.Warn("Group notification failed for recipient",
				zap.String("user", id), zap.Error(err))
		}
	}
	n.logBatch("Group notification finished", res)
	return res, nil
}

// SendToAllUsers creates an all-users pending message for every user.
func (n *Notificator) SendToAllUsers(ctx context.Context, text string) (BatchResult, error) {
	if err := placeholder.Validate(text); err != nil {
		return BatchResult{}, err
	}

	var res BatchResult
	err := n.store.EachUser(ctx, n.batchSize, func(u *models.User) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := n.SendPending(ctx, u.UUID, text, models.PriorityPendingAllUsers, u)
		res.add(u.UUID, msg, err)
		if err != nil {
			n.logger.Warn("Broadcast failed for recipient",
				zap.String("user", u.UUID), zap.Error(err))
		}
		return nil
	})
	n.logBatch("Broadcast finished", res)
	if err != nil {
		return res, fmt.Errorf("dispatch: broadcast: %w", err)
	}
	return res, nil
}

// RescanBatch retries delivery of pending messages against each recipient's
// current timezone and opt-ins. Already notified messages are skipped.
func (n *Notificator) RescanBatch(ctx context.Context, messageUUIDs []string) (BatchResult, error) {
	var res BatchResult
	for _, id := range messageUUIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		delivered, skipped, err := n.rescanOne(ctx, id)
		switch {
		case err != nil:
			res.Failed = append(res.Failed, RecipientError{ID: id, Err: err})
			n.logger.Warn("Rescan failed for message", zap.String("message", id), zap.Error(err))
			observe("rescan", outcomeFailed)
		case skipped:
			res.Skipped++
			observe("rescan", outcomeSkipped)
		case delivered:
			res.Delivered++
			observe("rescan", outcomeDelivered)
		default:
			res.Pending++
			observe("rescan", outcomeDeferred)
		}
	}
	n.logBatch("Rescan batch finished", res)
	return res, nil
}

func (n *Notificator) rescanOne(ctx context.Context, messageUUID string) (delivered, skipped bool, err error) {
	msg, err := n.store.GetMessage(ctx, messageUUID)
	if err != nil {
		return false, false, err
	}
	if msg.IsNotified {
		return false, true, nil
	}
	user, err := n.store.GetUser(ctx, msg.ToUserUUID)
	if err != nil {
		return false, false, err
	}
	d, err := n.deliver(ctx, user, msg, msg.Text, true)
	return d == deliverySent, d == deliveryBusy, err
}

// SendEmail mails text straight to address. No user is looked up and no
// message is stored.
func (n *Notificator) SendEmail(ctx context.Context, address, text string) bool {
	ok := n.email.SendTo(ctx, address, text)
	if ok {
		observe("email", outcomeDelivered)
	} else {
		observe("email", outcomeFailed)
	}
	return ok
}

func (n *Notificator) logBatch(msg string, res BatchResult) {
	n.logger.Info(msg,
		zap.Int("delivered", res.Delivered),
		zap.Int("pending", res.Pending),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", len(res.Failed)))
}
