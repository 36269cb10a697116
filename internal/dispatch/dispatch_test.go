package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/signalbox/internal/availability"
	"github.com/zulandar/signalbox/internal/channel"
	"github.com/zulandar/signalbox/internal/channel/email"
	"github.com/zulandar/signalbox/internal/channel/im"
	"github.com/zulandar/signalbox/internal/dispatch"
	"github.com/zulandar/signalbox/internal/identity"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/placeholder"
	"github.com/zulandar/signalbox/internal/queue"
	"github.com/zulandar/signalbox/internal/store"
	"github.com/zulandar/signalbox/internal/store/storetest"
	"go.uber.org/zap"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// utcAtLocal returns the instant whose hour in UTC+3 is hour.
func utcAtLocal(hour int) time.Time {
	return time.Date(2026, 5, 1, hour, 0, 0, 0, time.FixedZone("UTC+3", 3*3600)).UTC()
}

type mailbox struct {
	mu   sync.Mutex
	to   []string
	fail bool
}

func (m *mailbox) Send(ctx context.Context, from string, to []string, msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("connection refused")
	}
	m.to = append(m.to, to...)
	return nil
}

func (m *mailbox) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.to)
}

type imProvider struct {
	mu      sync.Mutex
	handles []string
}

func (p *imProvider) Name() string { return "mock" }

func (p *imProvider) Send(ctx context.Context, handle, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handles = append(p.handles, handle)
	return nil
}

func (p *imProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

type names map[string]string

func (n names) DisplayFields(ctx context.Context, userUUID string) (identity.Fields, error) {
	name, ok := n[userUUID]
	if !ok {
		return identity.Fields{}, identity.ErrUserNotFound
	}
	return identity.Fields{Name: name}, nil
}

type panicSender struct{}

func (panicSender) Name() string { return "im" }
func (panicSender) Send(ctx context.Context, user *models.User, text string) bool {
	panic("provider exploded")
}

type harness struct {
	n     *dispatch.Notificator
	store *store.Store
	mail  *mailbox
	im    *imProvider
	clock *clock
}

func newHarness(t *testing.T, imSender channel.Sender) *harness {
	t.Helper()
	s := storetest.New(t)
	mb := &mailbox{}
	prov := &imProvider{}
	clk := &clock{now: utcAtLocal(10)}

	emailSender, err := email.New(email.Options{From: "noreply@cinema.online", Transport: mb})
	require.NoError(t, err)
	if imSender == nil {
		imSender, err = im.New(im.Options{Provider: prov})
		require.NoError(t, err)
	}
	gate, err := availability.New([]int{9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20})
	require.NoError(t, err)

	n, err := dispatch.New(dispatch.Options{
		Store:    s,
		Resolver: placeholder.NewResolver(names{"u-1": "Ann", "u-2": "Bob"}),
		Gate:     gate,
		Email:    emailSender,
		IM:       imSender,
		InApp:    channel.NewInApp(s, zap.NewNop()),
		Clock:    clk.Now,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	return &harness{n: n, store: s, mail: mb, im: prov, clock: clk}
}

func seed(t *testing.T, h *harness, id string, mutate func(*models.User)) *models.User {
	t.Helper()
	u := models.NewUser(id, id+"@example.com")
	if mutate != nil {
		mutate(&u)
	}
	return storetest.SeedUser(t, h.store, u)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := dispatch.New(dispatch.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")
}

func TestSendPending_OutsideWindowThenRescanInside(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seed(t, h, "u-1", nil)

	h.clock.Set(utcAtLocal(22))
	msg, err := h.n.SendPending(ctx, "u-1", "hello %user_name%", models.PriorityPendingSingleUser, nil)
	require.NoError(t, err)
	assert.False(t, msg.IsNotified)
	assert.Equal(t, "hello Ann", msg.Text)
	assert.Zero(t, h.mail.count(), "nothing is sent outside the window")

	stored, err := h.store.GetMessage(ctx, msg.UUID)
	require.NoError(t, err)
	assert.False(t, stored.IsNotified)

	h.clock.Set(utcAtLocal(10))
	res, err := h.n.RescanBatch(ctx, []string{msg.UUID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, h.mail.count())
	assert.Zero(t, h.im.count(), "IM is off for the user")

	stored, err = h.store.GetMessage(ctx, msg.UUID)
	require.NoError(t, err)
	assert.True(t, stored.IsNotified)
	assert.Equal(t, models.PriorityPendingSingleUser, stored.Priority)
}

func TestSendPending_InsideWindowDeliversAtOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seed(t, h, "u-1", func(u *models.User) {
		u.AcceptsInstantMessage = true
		u.IMHandle = "@ann"
	})

	msg, err := h.n.SendPending(ctx, "u-1", "new film", models.PriorityPendingSingleUser, nil)
	require.NoError(t, err)
	assert.True(t, msg.IsNotified)
	assert.Equal(t, 1, h.mail.count())
	assert.Equal(t, 1, h.im.count())

	stored, err := h.store.GetMessage(ctx, msg.UUID)
	require.NoError(t, err)
	assert.True(t, stored.IsNotified)
}

func TestSendPending_UnknownUserCreatesNothing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.n.SendPending(ctx, "u-1", "hi", models.PriorityPendingSingleUser, nil)
	require.ErrorIs(t, err, store.ErrNotFound)

	msgs, err := h.store.ListMessagesForUser(ctx, "u-1", false)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendPending_ResolverFailure(t *testing.T) {
	h := newHarness(t, nil)
	seed(t, h, "u-3", nil)

	_, err := h.n.SendPending(context.Background(), "u-3", "hi %user_name%", models.PriorityPendingSingleUser, nil)
	require.ErrorIs(t, err, identity.ErrUserNotFound)
	assert.Zero(t, h.mail.count())
}

func TestSendPending_InAppOptOutStillSettles(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seed(t, h, "u-1", func(u *models.User) { u.AcceptsInApp = false })

	msg, err := h.n.SendPending(ctx, "u-1", "hi", models.PriorityPendingSingleUser, nil)
	require.NoError(t, err)
	assert.True(t, msg.IsNotified)
	assert.Equal(t, 1, h.mail.count())

	pending, err := h.store.FindPendingByPriority(ctx, models.PriorityPendingSingleUser)
	require.NoError(t, err)
	assert.Empty(t, pending, "settled message must not be rescanned")
}

func TestSendPending_InAppOptOutWaitsForExternalSuccess(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seed(t, h, "u-1", func(u *models.User) { u.AcceptsInApp = false })

	h.mail.fail = true
	msg, err := h.n.SendPending(ctx, "u-1", "hi", models.PriorityPendingSingleUser, nil)
	require.NoError(t, err)
	assert.False(t, msg.IsNotified)

	pending, err := h.store.FindPendingByPriority(ctx, models.PriorityPendingSingleUser)
	require.NoError(t, err)
	assert.Equal(t, []string{msg.UUID}, pending)

	h.mail.fail = false
	res, err := h.n.RescanBatch(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered, "released claim lets the next rescan retry")
	assert.Equal(t, 1, h.mail.count())
}

func TestSendPending_NoChannelEnabledSettles(t *testing.T) {
	h := newHarness(t, nil)
	seed(t, h, "u-1", func(u *models.User) {
		u.AcceptsInApp = false
		u.AcceptsEmail = false
	})

	msg, err := h.n.SendPending(context.Background(), "u-1", "hi", models.PriorityPendingSingleUser, nil)
	require.NoError(t, err)
	assert.True(t, msg.IsNotified)
	assert.Zero(t, h.mail.count())
}

func TestSendPending_EmailFailureStillFinalizes(t *testing.T) {
	h := newHarness(t, nil)
	h.mail.fail = true
	seed(t, h, "u-1", nil)

	msg, err := h.n.SendPending(context.Background(), "u-1", "hi", models.PriorityPendingSingleUser, nil)
	require.NoError(t, err)
	assert.True(t, msg.IsNotified)
}

func TestSendPending_PanickingSenderIsContained(t *testing.T) {
	h := newHarness(t, panicSender{})
	seed(t, h, "u-1", nil)

	msg, err := h.n.SendPending(context.Background(), "u-1", "hi", models.PriorityPendingSingleUser, nil)
	require.NoError(t, err)
	assert.True(t, msg.IsNotified)
	assert.Equal(t, 1, h.mail.count(), "email still goes out")
}

func TestSendImmediate(t *testing.T) {
	t.Run("records notified message", func(t *testing.T) {
		h := newHarness(t, nil)
		h.clock.Set(utcAtLocal(3))
		seed(t, h, "u-1", nil)

		msg, err := h.n.SendImmediate(context.Background(), "u-1", "hi %user_name%")
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.True(t, msg.IsNotified)
		assert.Equal(t, models.PriorityImmediateSingleUser, msg.Priority)
		assert.Equal(t, "hi Ann", msg.Text)
		assert.Equal(t, 1, h.mail.count(), "window is ignored")
	})

	t.Run("in-app opt-out stores nothing", func(t *testing.T) {
		h := newHarness(t, nil)
		seed(t, h, "u-1", func(u *models.User) { u.AcceptsInApp = false })

		msg, err := h.n.SendImmediate(context.Background(), "u-1", "hi")
		require.NoError(t, err)
		assert.Nil(t, msg)
		assert.Equal(t, 1, h.mail.count())

		msgs, err := h.store.ListMessagesForUser(context.Background(), "u-1", false)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("unknown user", func(t *testing.T) {
		h := newHarness(t, nil)
		_, err := h.n.SendImmediate(context.Background(), "missing", "hi")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestSendToUserList_IsolatesFailures(t *testing.T) {
	h := newHarness(t, nil)
	seed(t, h, "u-1", nil)
	seed(t, h, "u-2", nil)

	res, err := h.n.SendToUserList(context.Background(), []string{"u-1", "missing", "u-2"}, "sale")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "missing", res.Failed[0].ID)
	assert.ErrorIs(t, res.Err(), store.ErrNotFound)

	msgs, err := h.store.ListMessagesForUser(context.Background(), "u-2", false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.PriorityPendingFilteredGroup, msgs[0].Priority)
}

func TestSendToUserList_RejectsInvalidPlaceholders(t *testing.T) {
	h := newHarness(t, nil)
	seed(t, h, "u-1", nil)

	_, err := h.n.SendToUserList(context.Background(), []string{"u-1"}, "hi %user_name%, %bad_token%")
	var invalid *placeholder.InvalidPlaceholderError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []string{"%bad_token%"}, invalid.Tokens)
	assert.Zero(t, h.mail.count())
}

func TestSendToAllUsers(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seed(t, h, "u-1", nil)
	seed(t, h, "u-2", func(u *models.User) { u.Timezone = "UTC−10" })

	res, err := h.n.SendToAllUsers(ctx, "premiere tonight")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Pending, "UTC−10 is outside the window")
	assert.Empty(t, res.Failed)

	pending, err := h.store.FindPendingByPriority(ctx, models.PriorityPendingAllUsers)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRescanBatch_SkipsNotifiedAndReportsMissing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seed(t, h, "u-1", nil)

	msg, err := h.n.SendPending(ctx, "u-1", "hi", models.PriorityPendingSingleUser, nil)
	require.NoError(t, err)
	require.True(t, msg.IsNotified)

	res, err := h.n.RescanBatch(ctx, []string{msg.UUID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, store.ErrNotFound)
	assert.Equal(t, 1, h.mail.count(), "notified message is not re-sent")
}

func TestRescanBatch_UsesCurrentUserSettings(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seed(t, h, "u-1", nil)

	h.clock.Set(utcAtLocal(22))
	msg, err := h.n.SendPending(ctx, "u-1", "hi", models.PriorityPendingSingleUser, nil)
	require.NoError(t, err)
	require.False(t, msg.IsNotified)

	// 22:00 in UTC+3 is 09:00 in UTC+14.
	tz := "UTC+14"
	_, err = h.store.UpdateUser(ctx, "u-1", store.UserUpdate{Timezone: &tz})
	require.NoError(t, err)

	res, err := h.n.RescanBatch(ctx, []string{msg.UUID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
}

func TestRescanBatch_ConcurrentSingleFinalizer(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seed(t, h, "u-1", nil)

	h.clock.Set(utcAtLocal(22))
	var ids []string
	for i := 0; i < 5; i++ {
		msg, err := h.n.SendPending(ctx, "u-1", "hi", models.PriorityPendingSingleUser, nil)
		require.NoError(t, err)
		ids = append(ids, msg.UUID)
	}
	h.clock.Set(utcAtLocal(12))

	const rescans = 4
	results := make([]dispatch.BatchResult, rescans)
	var wg sync.WaitGroup
	for i := 0; i < rescans; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.n.RescanBatch(ctx, ids)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	total := 0
	for _, r := range results {
		total += r.Delivered
		assert.Empty(t, r.Failed)
	}
	assert.Equal(t, len(ids), total, "each message has exactly one finalizer")
	assert.Equal(t, len(ids), h.mail.count(), "each message is emailed once")

	pending, err := h.store.FindPendingByPriority(ctx, models.PriorityPendingSingleUser)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRescanBatch_ConcurrentSendsOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seed(t, h, "u-1", func(u *models.User) {
		u.AcceptsInstantMessage = true
		u.IMHandle = "@ann"
	})

	h.clock.Set(utcAtLocal(22))
	msg, err := h.n.SendPending(ctx, "u-1", "hi", models.PriorityPendingSingleUser, nil)
	require.NoError(t, err)
	require.False(t, msg.IsNotified)
	h.clock.Set(utcAtLocal(12))

	const rescans = 4
	results := make([]dispatch.BatchResult, rescans)
	var wg sync.WaitGroup
	for i := 0; i < rescans; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.n.RescanBatch(ctx, []string{msg.UUID})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	delivered, skipped := 0, 0
	for _, r := range results {
		delivered += r.Delivered
		skipped += r.Skipped
	}
	assert.Equal(t, 1, delivered)
	assert.Equal(t, rescans-1, skipped)
	assert.Equal(t, 1, h.mail.count())
	assert.Equal(t, 1, h.im.count())
}

func TestRescanBatch_ExpiredClaimIsTakenOver(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seed(t, h, "u-1", nil)

	h.clock.Set(utcAtLocal(22))
	msg, err := h.n.SendPending(ctx, "u-1", "hi", models.PriorityPendingSingleUser, nil)
	require.NoError(t, err)

	// A dispatcher that died mid-send left its claim behind.
	h.clock.Set(utcAtLocal(12))
	ok, err := h.store.ClaimMessage(ctx, msg.UUID, h.clock.Now(), dispatch.DefaultClaimTTL)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := h.n.RescanBatch(ctx, []string{msg.UUID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped, "live claim blocks the rescan")
	assert.Zero(t, h.mail.count())

	h.clock.Set(utcAtLocal(13))
	res, err = h.n.RescanBatch(ctx, []string{msg.UUID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, h.mail.count())
}

func TestRescanBatch_NotifiedNeverReverts(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seed(t, h, "u-1", nil)

	msg, err := h.n.SendPending(ctx, "u-1", "hi", models.PriorityPendingSingleUser, nil)
	require.NoError(t, err)
	require.True(t, msg.IsNotified)

	h.clock.Set(utcAtLocal(23))
	_, err = h.n.RescanBatch(ctx, []string{msg.UUID})
	require.NoError(t, err)

	stored, err := h.store.GetMessage(ctx, msg.UUID)
	require.NoError(t, err)
	assert.True(t, stored.IsNotified)
}

func TestSendEmail(t *testing.T) {
	h := newHarness(t, nil)
	assert.True(t, h.n.SendEmail(context.Background(), "guest@example.com", "ticket"))
	assert.Equal(t, 1, h.mail.count())

	h.mail.fail = true
	assert.False(t, h.n.SendEmail(context.Background(), "guest@example.com", "ticket"))
}

func TestHandlers_CoverEveryKind(t *testing.T) {
	h := newHarness(t, nil)
	handlers := dispatch.Handlers(h.n, func(ctx context.Context) error { return nil })
	for _, k := range queue.Kinds {
		assert.Contains(t, handlers, k)
	}
}

func TestHandlers_RunJobs(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seed(t, h, "u-1", nil)

	var rescanned bool
	runner := queue.NewRunner(dispatch.Handlers(h.n, func(ctx context.Context) error {
		rescanned = true
		return nil
	}), zap.NewNop())

	job, err := queue.NewJob(queue.PendingPayload{UserUUID: "u-1", Text: "hi"})
	require.NoError(t, err)
	require.NoError(t, runner.Run(ctx, job))

	job, err = queue.NewJob(queue.EmailPayload{To: "guest@example.com", Text: "hi"})
	require.NoError(t, err)
	require.NoError(t, runner.Run(ctx, job))
	assert.Equal(t, 2, h.mail.count())

	job, err = queue.NewJob(queue.RescanAllPayload{})
	require.NoError(t, err)
	require.NoError(t, runner.Run(ctx, job))
	assert.True(t, rescanned)

	h.mail.fail = true
	job, err = queue.NewJob(queue.EmailPayload{To: "guest@example.com", Text: "hi"})
	require.NoError(t, err)
	assert.ErrorIs(t, runner.Run(ctx, job), dispatch.ErrEmailNotSent)
}
