package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/placeholder"
)

// ErrInvalidPayload is wrapped by every job validation failure.
var ErrInvalidPayload = errors.New("queue: invalid payload")

// Job is a unit of queued work. It carries plain data only.
type Job struct {
	ID       string          `json:"id"`
	Kind     Kind            `json:"kind"`
	Priority Priority        `json:"priority"`
	Payload  json.RawMessage `json:"payload"`
}

// Payload is implemented by every typed job body.
type Payload interface {
	Kind() Kind
	Validate() error
}

// EmailPayload sends text straight to an address.
type EmailPayload struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// ImmediatePayload delivers to one user now, ignoring the delivery window.
type ImmediatePayload struct {
	UserUUID string `json:"user_uuid"`
	Text     string `json:"text"`
}

// PendingPayload creates a pending message for one user.
type PendingPayload struct {
	UserUUID string `json:"user_uuid"`
	Text     string `json:"text"`
}

// UserListPayload creates pending messages for a filtered set of users.
type UserListPayload struct {
	UserUUIDs []string `json:"user_uuids"`
	Text      string   `json:"text"`
}

// AllUsersPayload creates pending messages for every user.
type AllUsersPayload struct {
	Text string `json:"text"`
}

// RescanPayload retries delivery of specific pending messages.
type RescanPayload struct {
	MessageUUIDs []string `json:"message_uuids"`
}

// RescanAllPayload triggers one scheduler tick.
type RescanAllPayload struct{}

func (EmailPayload) Kind() Kind     { return KindSendEmail }
func (ImmediatePayload) Kind() Kind { return KindSendImmediate }
func (PendingPayload) Kind() Kind   { return KindSendPending }
func (UserListPayload) Kind() Kind  { return KindSendToUserList }
func (AllUsersPayload) Kind() Kind  { return KindSendToAllUsers }
func (RescanPayload) Kind() Kind    { return KindRescanBatch }
func (RescanAllPayload) Kind() Kind { return KindRescanAll }

func validateText(text string) error {
	if text == "" {
		return errors.New("text is required")
	}
	return placeholder.Validate(text)
}

func (p EmailPayload) Validate() error {
	if _, err := mail.ParseAddress(p.To); err != nil {
		return fmt.Errorf("invalid address %q: %w", p.To, err)
	}
	return validateText(p.Text)
}

func (p ImmediatePayload) Validate() error {
	if p.UserUUID == "" {
		return errors.New("user_uuid is required")
	}
	return validateText(p.Text)
}

func (p PendingPayload) Validate() error {
	if p.UserUUID == "" {
		return errors.New("user_uuid is required")
	}
	return validateText(p.Text)
}

func (p UserListPayload) Validate() error {
	if len(p.UserUUIDs) == 0 {
		return errors.New("user_uuids must not be empty")
	}
	for i, id := range p.UserUUIDs {
		if id == "" {
			return fmt.Errorf("user_uuids[%d] is empty", i)
		}
	}
	return validateText(p.Text)
}

func (p AllUsersPayload) Validate() error {
	return validateText(p.Text)
}

func (p RescanPayload) Validate() error {
	if len(p.MessageUUIDs) == 0 {
		return errors.New("message_uuids must not be empty")
	}
	return nil
}

func (RescanAllPayload) Validate() error { return nil }

func invalid(kind Kind, err error) error {
	return fmt.Errorf("queue: %s: %w: %w", kind, ErrInvalidPayload, err)
}

// NewJob validates p and wraps it in a Job at its kind's priority.
func NewJob(p Payload) (Job, error) {
	if err := p.Validate(); err != nil {
		return Job{}, invalid(p.Kind(), err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return Job{}, fmt.Errorf("queue: encode %s: %w", p.Kind(), err)
	}
	return Job{ID: uuid.NewString(), Kind: p.Kind(), Priority: PriorityFor(p.Kind()), Payload: raw}, nil
}

// NewRescanJob builds a rescan batch for messages of one pending class. The
// job runs at that class's priority.
func NewRescanJob(messageUUIDs []string, class models.MessagePriority) (Job, error) {
	if !isPendingClass(class) {
		return Job{}, invalid(KindRescanBatch, fmt.Errorf("class %s is not a pending class", class))
	}
	job, err := NewJob(RescanPayload{MessageUUIDs: messageUUIDs})
	if err != nil {
		return Job{}, err
	}
	job.Priority = PriorityForClass(class)
	return job, nil
}

func isPendingClass(class models.MessagePriority) bool {
	for _, c := range models.PendingPriorities {
		if c == class {
			return true
		}
	}
	return false
}

// Decode returns the typed payload of job after validating it.
func Decode(job Job) (Payload, error) {
	var p Payload
	var err error
	switch job.Kind {
	case KindSendEmail:
		p, err = decodeAs[EmailPayload](job.Payload)
	case KindSendImmediate:
		p, err = decodeAs[ImmediatePayload](job.Payload)
	case KindSendPending:
		p, err = decodeAs[PendingPayload](job.Payload)
	case KindSendToUserList:
		p, err = decodeAs[UserListPayload](job.Payload)
	case KindSendToAllUsers:
		p, err = decodeAs[AllUsersPayload](job.Payload)
	case KindRescanBatch:
		p, err = decodeAs[RescanPayload](job.Payload)
	case KindRescanAll:
		p = RescanAllPayload{}
	default:
		return nil, fmt.Errorf("queue: %w: unknown kind %q", ErrInvalidPayload, job.Kind)
	}
	if err != nil {
		return nil, invalid(job.Kind, err)
	}
	if err := p.Validate(); err != nil {
		return nil, invalid(job.Kind, err)
	}
	return p, nil
}

func decodeAs[T Payload](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, errors.New("payload is empty")
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

// Validate checks the job's kind, priority and payload.
func (j Job) Validate() error {
	if !j.Kind.Valid() {
		return fmt.Errorf("queue: %w: unknown kind %q", ErrInvalidPayload, j.Kind)
	}
	if j.Kind == KindRescanBatch {
		if j.Priority != PriorityFor(j.Kind) && !isPendingClass(models.MessagePriority(j.Priority)) {
			return invalid(j.Kind, fmt.Errorf("priority %d is not a pending class", j.Priority))
		}
	} else if j.Priority != PriorityFor(j.Kind) {
		return invalid(j.Kind, fmt.Errorf("priority %d, want %d", j.Priority, PriorityFor(j.Kind)))
	}
	_, err := Decode(j)
	return err
}
