package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/placeholder"
)

func TestPriorityFor_Table(t *testing.T) {
	want := map[Kind]Priority{
		KindSendEmail:      1,
		KindSendImmediate:  2,
		KindSendPending:    3,
		KindRescanAll:      4,
		KindSendToUserList: 5,
		KindSendToAllUsers: 6,
	}
	for kind, p := range want {
		assert.Equal(t, p, PriorityFor(kind), "PriorityFor(%s)", kind)
	}
	for _, k := range Kinds {
		assert.True(t, k.Valid(), "%s should be valid", k)
	}
	assert.Equal(t, Priority(0), PriorityFor("bogus"))
	assert.False(t, Kind("bogus").Valid())
}

func TestPriorityForClass_MatchesProducerKinds(t *testing.T) {
	assert.Equal(t, PriorityFor(KindSendImmediate), PriorityForClass(models.PriorityImmediateSingleUser))
	assert.Equal(t, PriorityFor(KindSendPending), PriorityForClass(models.PriorityPendingSingleUser))
	assert.Equal(t, PriorityFor(KindSendToUserList), PriorityForClass(models.PriorityPendingFilteredGroup))
	assert.Equal(t, PriorityFor(KindSendToAllUsers), PriorityForClass(models.PriorityPendingAllUsers))
}

func TestNewJob_Valid(t *testing.T) {
	tests := []struct {
		payload Payload
		kind    Kind
	}{
		{EmailPayload{To: "a@example.com", Text: "hi"}, KindSendEmail},
		{ImmediatePayload{UserUUID: "u", Text: "hi %user_name%"}, KindSendImmediate},
		{PendingPayload{UserUUID: "u", Text: "hi"}, KindSendPending},
		{UserListPayload{UserUUIDs: []string{"a", "b"}, Text: "hi"}, KindSendToUserList},
		{AllUsersPayload{Text: "hi"}, KindSendToAllUsers},
		{RescanAllPayload{}, KindRescanAll},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			job, err := NewJob(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, job.Kind)
			assert.Equal(t, PriorityFor(tt.kind), job.Priority)
			require.NoError(t, job.Validate())

			decoded, err := Decode(job)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, decoded)
		})
	}
}

func TestNewJob_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    string
	}{
		{"bad address", EmailPayload{To: "not-an-address", Text: "hi"}, "invalid address"},
		{"empty text", PendingPayload{UserUUID: "u"}, "text is required"},
		{"missing user", ImmediatePayload{Text: "hi"}, "user_uuid is required"},
		{"empty list", UserListPayload{Text: "hi"}, "user_uuids must not be empty"},
		{"blank uuid in list", UserListPayload{UserUUIDs: []string{"a", ""}, Text: "hi"}, "user_uuids[1] is empty"},
		{"empty rescan", RescanPayload{}, "message_uuids must not be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewJob(tt.payload)
			require.ErrorIs(t, err, ErrInvalidPayload)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestNewJob_RejectsUnknownPlaceholder(t *testing.T) {
	_, err := NewJob(AllUsersPayload{Text: "hi %user_name%, %bad_token%"})
	require.ErrorIs(t, err, ErrInvalidPayload)
	require.ErrorIs(t, err, placeholder.ErrInvalidPlaceholder)

	var ipe *placeholder.InvalidPlaceholderError
	require.True(t, errors.As(err, &ipe))
	assert.Equal(t, []string{"%bad_token%"}, ipe.Tokens)
}

func TestNewRescanJob_CarriesClassPriority(t *testing.T) {
	for _, class := range models.PendingPriorities {
		job, err := NewRescanJob([]string{"m-1"}, class)
		require.NoError(t, err)
		assert.Equal(t, KindRescanBatch, job.Kind)
		assert.Equal(t, Priority(class), job.Priority)
		assert.NoError(t, job.Validate())
	}

	_, err := NewRescanJob([]string{"m-1"}, models.PriorityImmediateSingleUser)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestJobValidate_RejectsForgedPriority(t *testing.T) {
	job, err := NewJob(AllUsersPayload{Text: "hi"})
	require.NoError(t, err)
	job.Priority = 1
	assert.ErrorIs(t, job.Validate(), ErrInvalidPayload)

	rescan, err := NewRescanJob([]string{"m"}, models.PriorityPendingAllUsers)
	require.NoError(t, err)
	rescan.Priority = 2
	assert.ErrorIs(t, rescan.Validate(), ErrInvalidPayload)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(Job{Kind: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = Decode(Job{Kind: KindSendPending, Priority: 3, Payload: json.RawMessage(`{"user_uuid":`)})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = Decode(Job{Kind: KindSendPending, Priority: 3})
	assert.ErrorContains(t, err, "payload is empty")
}

// --- Runner ---

func TestRunner_DispatchesByKind(t *testing.T) {
	var got []Kind
	r := NewRunner(Handlers{
		KindRescanAll: func(ctx context.Context, job Job) error {
			got = append(got, job.Kind)
			return nil
		},
	}, nil)

	job, _ := NewJob(RescanAllPayload{})
	require.NoError(t, r.Run(context.Background(), job))
	assert.Equal(t, []Kind{KindRescanAll}, got)

	other, _ := NewJob(AllUsersPayload{Text: "x"})
	assert.ErrorIs(t, r.Run(context.Background(), other), ErrNoHandler)
}

func TestRunner_ValidatesBeforeRunning(t *testing.T) {
	called := false
	r := NewRunner(Handlers{KindSendPending: func(ctx context.Context, job Job) error {
		called = true
		return nil
	}}, nil)

	err := r.Run(context.Background(), Job{Kind: KindSendPending, Priority: 3, Payload: json.RawMessage(`{"user_uuid":"u","text":"%nope%"}`)})
	assert.ErrorIs(t, err, placeholder.ErrInvalidPlaceholder)
	assert.False(t, called)
}

// --- Pool ---

type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) handler(ctx context.Context, job Job) error {
	var p AllUsersPayload
	_ = json.Unmarshal(job.Payload, &p)
	r.mu.Lock()
	r.seen = append(r.seen, p.Text)
	r.mu.Unlock()
	return nil
}

func allKindsRecorder(rec *recorder) Handlers {
	h := Handlers{}
	for _, k := range Kinds {
		h[k] = rec.handler
	}
	return h
}

func mustJob(t *testing.T, p Payload) Job {
	t.Helper()
	job, err := NewJob(p)
	require.NoError(t, err)
	return job
}

func TestPool_OrdersByPriorityThenFIFO(t *testing.T) {
	rec := &recorder{}
	pool := NewPool(NewRunner(allKindsRecorder(rec), nil), PoolOptions{Workers: 1, Size: 16})
	ctx := context.Background()

	require.NoError(t, pool.Submit(ctx, mustJob(t, AllUsersPayload{Text: "all-1"})))
	require.NoError(t, pool.Submit(ctx, mustJob(t, UserListPayload{UserUUIDs: []string{"a"}, Text: "list-1"})))
	require.NoError(t, pool.Submit(ctx, mustJob(t, AllUsersPayload{Text: "all-2"})))
	require.NoError(t, pool.Submit(ctx, mustJob(t, EmailPayload{To: "a@example.com", Text: "email-1"})))
	require.NoError(t, pool.Submit(ctx, mustJob(t, PendingPayload{UserUUID: "u", Text: "pending-1"})))
	assert.Equal(t, 5, pool.Len())

	pool.Start(ctx)
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool.Stop(stopCtx)

	assert.Equal(t, []string{"email-1", "pending-1", "list-1", "all-1", "all-2"}, rec.seen)
	assert.Zero(t, pool.Len())
}

func TestPool_Full(t *testing.T) {
	pool := NewPool(NewRunner(Handlers{}, nil), PoolOptions{Workers: 1, Size: 2})
	ctx := context.Background()
	job := mustJob(t, RescanAllPayload{})

	require.NoError(t, pool.Submit(ctx, job))
	require.NoError(t, pool.Submit(ctx, job))
	assert.ErrorIs(t, pool.Submit(ctx, job), ErrQueueFull)
}

func TestPool_StoppedRejects(t *testing.T) {
	pool := NewPool(NewRunner(Handlers{}, nil), PoolOptions{})
	pool.Start(context.Background())
	pool.Stop(context.Background())

	assert.ErrorIs(t, pool.Submit(context.Background(), mustJob(t, RescanAllPayload{})), ErrStopped)
}

func TestPool_RejectsInvalidJob(t *testing.T) {
	pool := NewPool(NewRunner(Handlers{}, nil), PoolOptions{})
	err := pool.Submit(context.Background(), Job{Kind: KindSendToAllUsers, Priority: 6, Payload: json.RawMessage(`{"text":"%x%"}`)})
	assert.ErrorIs(t, err, placeholder.ErrInvalidPlaceholder)
	assert.Zero(t, pool.Len())
}

func TestPool_JobTimeout(t *testing.T) {
	done := make(chan error, 1)
	h := Handlers{KindRescanAll: func(ctx context.Context, job Job) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}}
	pool := NewPool(NewRunner(h, nil), PoolOptions{Workers: 1, JobTimeout: 20 * time.Millisecond})
	pool.Start(context.Background())
	defer pool.Stop(context.Background())

	require.NoError(t, pool.Submit(context.Background(), mustJob(t, RescanAllPayload{})))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not cancelled by its timeout")
	}
}

func TestPool_RecoversPanics(t *testing.T) {
	ran := make(chan struct{}, 2)
	calls := 0
	h := Handlers{KindRescanAll: func(ctx context.Context, job Job) error {
		calls++
		ran <- struct{}{}
		if calls == 1 {
			panic("boom")
		}
		return nil
	}}
	pool := NewPool(NewRunner(h, nil), PoolOptions{Workers: 1})
	pool.Start(context.Background())

	job := mustJob(t, RescanAllPayload{})
	require.NoError(t, pool.Submit(context.Background(), job))
	require.NoError(t, pool.Submit(context.Background(), job))

	for i := 0; i < 2; i++ {
		select {
		case <-ran:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not survive the panic")
		}
	}
	pool.Stop(context.Background())
}

func TestPool_StopDeadlineDropsPending(t *testing.T) {
	release := make(chan struct{})
	h := Handlers{KindRescanAll: func(ctx context.Context, job Job) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	pool := NewPool(NewRunner(h, nil), PoolOptions{Workers: 1})
	job := mustJob(t, RescanAllPayload{})
	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Submit(context.Background(), job))
	}
	pool.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	pool.Stop(ctx)
	close(release)
	assert.Zero(t, pool.Len())
}
