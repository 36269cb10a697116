package dispatch

import (
	"errors"
	"fmt"

	"github.com/zulandar/signalbox/internal/models"
)

// RecipientError is one failed recipient or message in a batch.
type RecipientError struct {
	ID  string
	Err error
}

func (e RecipientError) Error() string { return fmt.Sprintf("%s: %v", e.ID, e.Err) }
func (e RecipientError) Unwrap() error { return e.Err }

// BatchResult summarizes a fan-out or rescan.
type BatchResult struct {
	// Delivered counts messages this call moved to notified.
	Delivered int
	// Pending counts messages left for a later rescan.
	Pending int
	// Skipped counts messages that were already notified.
	Skipped int
	Failed  []RecipientError
}

func (r *BatchResult) add(id string, msg *models.Message, err error) {
	switch {
	case err != nil:
		r.Failed = append(r.Failed, RecipientError{ID: id, Err: err})
	case msg != nil && msg.IsNotified:
		r.Delivered++
	default:
		r.Pending++
	}
}

// Err joins every recipient failure, or returns nil.
func (r BatchResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}
