package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// NewMessage holds the fields for CreateMessage.
type NewMessage struct {
	ToUserUUID string
	Theme      string
	Text       string
	Priority   models.MessagePriority
	IsNotified bool
}

// MessageUpdate lists the user-editable message fields. IsNotified only
// changes through MarkNotified.
type MessageUpdate struct {
	Theme  *string
	Text   *string
	IsRead *bool
}

// CreateMessage inserts a message with a fresh external UUID and returns the
// re-read row.
func (s *Store) CreateMessage(ctx context.Context, nm NewMessage) (*models.Message, error) {
	if nm.ToUserUUID == "" {
		return nil, fmt.Errorf("store: create message: recipient is required")
	}
	if !nm.Priority.Valid() {
		return nil, fmt.Errorf("store: create message: invalid priority %d", nm.Priority)
	}

	msg := models.Message{
		UUID:       uuid.NewString(),
		Theme:      nm.Theme,
		Text:       nm.Text,
		Priority:   nm.Priority,
		IsNotified: nm.IsNotified,
		ToUserUUID: nm.ToUserUUID,
	}
	if err := s.conn(ctx).Create(&msg).Error; err != nil {
		return nil, translate("create message", err)
	}
	return s.reloadMessage(ctx, msg.ID)
}

func (s *Store) reloadMessage(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := s.conn(ctx).First(&msg, id).Error; err != nil {
		return nil, translate(fmt.Sprintf("reload message %d", id), err)
	}
	return &msg, nil
}

// GetMessage returns the message with the given external UUID.
func (s *Store) GetMessage(ctx context.Context, messageUUID string) (*models.Message, error) {
	var msg models.Message
	if err := s.conn(ctx).Where("uuid = ?", messageUUID).First(&msg).Error; err != nil {
		return nil, translate("get message "+messageUUID, err)
	}
	return &msg, nil
}

// UpdateMessage applies the non-nil fields of upd and returns the re-read row.
func (s *Store) UpdateMessage(ctx context.Context, messageUUID string, upd MessageUpdate) (*models.Message, error) {
	msg, err := s.GetMessage(ctx, messageUUID)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if upd.Theme != nil {
		fields["theme"] = *upd.Theme
	}
	if upd.Text != nil {
		fields["text"] = *upd.Text
	}
	if upd.IsRead != nil {
		fields["is_read"] = *upd.IsRead
	}
	if len(fields) == 0 {
		return msg, nil
	}

	if err := s.conn(ctx).Model(&models.Message{}).Where("id = ?", msg.ID).Updates(fields).Error; err != nil {
		return nil, translate("update message "+messageUUID, err)
	}
	return s.reloadMessage(ctx, msg.ID)
}

// MarkNotified flips is_notified from false to true with a single
// conditional update. It returns true only for the caller that performed the
// transition; a message that was already notified yields false and no error.
func (s *Store) MarkNotified(ctx context.Context, messageUUID string) (bool, error) {
	result := s.conn(ctx).Model(&models.Message{}).
		Where("uuid = ? AND is_notified = ?", messageUUID, false).
		Update("is_notified", true)
	if result.Error != nil {
		return false, translate("mark notified "+messageUUID, result.Error)
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := s.conn(ctx).Model(&models.Message{}).Where("uuid = ?", messageUUID).Count(&count).Error; err != nil {
		return false, translate("mark notified "+messageUUID, err)
	}
	if count == 0 {
		return false, fmt.Errorf("store: mark notified %s: %w", messageUUID, ErrNotFound)
	}
	return false, nil
}

// ClaimMessage takes the send claim on a pending message for ttl. It returns
// true only for the caller whose conditional update changed the row; a claim
// older than ttl may be taken over. Notified messages are never claimed.
func (s *Store) ClaimMessage(ctx context.Context, messageUUID string, now time.Time, ttl time.Duration) (bool, error) {
	now = now.UTC()
	result := s.conn(ctx).Model(&models.Message{}).
		Where("uuid = ? AND is_notified = ?", messageUUID, false).
		Where("(dispatching_at IS NULL OR dispatching_at < ?)", now.Add(-ttl)).
		Update("dispatching_at", now)
	if result.Error != nil {
		return false, translate("claim message "+messageUUID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ReleaseMessage drops the send claim on a message that is still pending so
// the next rescan can pick it up.
func (s *Store) ReleaseMessage(ctx context.Context, messageUUID string) error {
	err := s.conn(ctx).Model(&models.Message{}).
		Where("uuid = ? AND is_notified = ?", messageUUID, false).
		Update("dispatching_at", nil).Error
	if err != nil {
		return translate("release message "+messageUUID, err)
	}
	return nil
}

// MarkRead sets is_read on every listed message. All UUIDs must exist;
// otherwise nothing is updated and ErrNotFound names the first missing one.
func (s *Store) MarkRead(ctx context.Context, messageUUIDs []string) ([]models.Message, error) {
	if len(messageUUIDs) == 0 {
		return nil, nil
	}

	var msgs []models.Message
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("uuid IN ?", messageUUIDs).Find(&msgs).Error; err != nil {
			return err
		}
		found := make(map[string]bool, len(msgs))
		for _, m := range msgs {
			found[m.UUID] = true
		}
		for _, id := range messageUUIDs {
			if !found[id] {
				return fmt.Errorf("message %s: %w", id, ErrNotFound)
			}
		}
		if err := tx.Model(&models.Message{}).Where("uuid IN ?", messageUUIDs).Update("is_read", true).Error; err != nil {
			return err
		}
		return tx.Where("uuid IN ?", messageUUIDs).Order("id ASC").Find(&msgs).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("store: mark read: %w", err)
		}
		return nil, translate("mark read", err)
	}
	return msgs, nil
}

// ListMessagesForUser returns a user's inbox, newest first. With
// notifiedOnly, pending messages are excluded.
func (s *Store) ListMessagesForUser(ctx context.Context, userUUID string, notifiedOnly bool) ([]models.Message, error) {
	q := s.conn(ctx).Where("to_user_uuid = ?", userUUID)
	if notifiedOnly {
		q = q.Where("is_notified = ?", true)
	}
	var msgs []models.Message
	if err := q.Order("created_at DESC, id DESC").Find(&msgs).Error; err != nil {
		return nil, translate("list messages for "+userUUID, err)
	}
	return msgs, nil
}

// FindPendingByPriority returns the UUIDs of messages in class p that have
// not been notified yet, oldest first.
func (s *Store) FindPendingByPriority(ctx context.Context, p models.MessagePriority) ([]string, error) {
	var ids []string
	err := s.conn(ctx).Model(&models.Message{}).
		Where("is_notified = ? AND priority = ?", false, p).
		Order("id ASC").
		Pluck("uuid", &ids).Error
	if err != nil {
		return nil, translate(fmt.Sprintf("find pending %s", p), err)
	}
	return ids, nil
}
