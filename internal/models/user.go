package models

import "time"

// DefaultTimezone is assigned to users created without an explicit timezone.
const DefaultTimezone = "UTC+3"

// User is a notification recipient with per-channel opt-in flags.
type User struct {
	ID                    uint   `gorm:"primaryKey;autoIncrement"`
	UUID                  string `gorm:"size:36;not null;uniqueIndex"`
	Email                 string `gorm:"size:128;uniqueIndex"`
	Timezone              string `gorm:"size:10;not null;default:UTC+3"`
	AcceptsEmail          bool   `gorm:"not null"`
	AcceptsInApp          bool   `gorm:"not null"`
	AcceptsInstantMessage bool   `gorm:"not null"`
	IMHandle              string `gorm:"size:255"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewUser returns a User with the opt-in defaults applied: email and in-app on,
// instant messages off until a handle is linked.
func NewUser(uuid, email string) User {
	return User{
		UUID:         uuid,
		Email:        email,
		Timezone:     DefaultTimezone,
		AcceptsEmail: true,
		AcceptsInApp: true,
	}
}
