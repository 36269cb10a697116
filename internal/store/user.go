package store

import (
	"context"
	"errors"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// UserUpdate lists the preference fields a user may change.
type UserUpdate struct {
	Timezone              *string
	IMHandle              *string
	AcceptsEmail          *bool
	AcceptsInApp          *bool
	AcceptsInstantMessage *bool
}

// GetUser returns the user with the given external UUID.
func (s *Store) GetUser(ctx context.Context, userUUID string) (*models.User, error) {
	var u models.User
	if err := s.conn(ctx).Where("uuid = ?", userUUID).First(&u).Error; err != nil {
		return nil, translate("get user "+userUUID, err)
	}
	return &u, nil
}

// GetOrCreateUser returns the user with userUUID, creating it with default
// preferences when absent. The bool reports whether a row was inserted.
func (s *Store) GetOrCreateUser(ctx context.Context, userUUID, email string) (*models.User, bool, error) {
	u, err := s.GetUser(ctx, userUUID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	nu := models.NewUser(userUUID, email)
	if err := s.conn(ctx).Create(&nu).Error; err != nil {
		return nil, false, translate("create user "+userUUID, err)
	}
	u, err = s.GetUser(ctx, userUUID)
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// UpdateUser applies the non-nil preference fields and returns the re-read row.
func (s *Store) UpdateUser(ctx context.Context, userUUID string, upd UserUpdate) (*models.User, error) {
	u, err := s.GetUser(ctx, userUUID)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if upd.Timezone != nil {
		fields["timezone"] = *upd.Timezone
	}
	if upd.IMHandle != nil {
		fields["im_handle"] = *upd.IMHandle
	}
	if upd.AcceptsEmail != nil {
		fields["accepts_email"] = *upd.AcceptsEmail
	}
	if upd.AcceptsInApp != nil {
		fields["accepts_in_app"] = *upd.AcceptsInApp
	}
	if upd.AcceptsInstantMessage != nil {
		fields["accepts_instant_message"] = *upd.AcceptsInstantMessage
	}
	if len(fields) == 0 {
		return u, nil
	}

	if err := s.conn(ctx).Model(&models.User{}).Where("id = ?", u.ID).Updates(fields).Error; err != nil {
		return nil, translate("update user "+userUUID, err)
	}
	return s.GetUser(ctx, userUUID)
}

// EachUser walks every user in primary-key order, batchSize rows at a time,
// and calls fn for each. Iteration stops at the first error fn returns.
func (s *Store) EachUser(ctx context.Context, batchSize int, fn func(*models.User) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	var batch []models.User
	var fnErr error
	result := s.conn(ctx).FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		for i := range batch {
			if err := ctx.Err(); err != nil {
				fnErr = err
				return err
			}
			if err := fn(&batch[i]); err != nil {
				fnErr = err
				return err
			}
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	if result.Error != nil {
		return translate("list users", result.Error)
	}
	return nil
}
