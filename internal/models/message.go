package models

import "time"

// MessagePriority is the closed set of priority classes a Message is created
// with. The numeric values match the queue priority of the job kind that
// produces the message, so a lower value is dispatched first.
type MessagePriority int

const (
	PriorityImmediateSingleUser  MessagePriority = 2
	PriorityPendingSingleUser    MessagePriority = 3
	PriorityPendingFilteredGroup MessagePriority = 5
	PriorityPendingAllUsers      MessagePriority = 6
)

// PendingPriorities lists the classes the rescan scheduler partitions by, in
// the order their partitions are submitted.
var PendingPriorities = []MessagePriority{
	PriorityPendingSingleUser,
	PriorityPendingFilteredGroup,
	PriorityPendingAllUsers,
}

// Valid reports whether p is one of the known priority classes.
func (p MessagePriority) Valid() bool {
	switch p {
	case PriorityImmediateSingleUser, PriorityPendingSingleUser,
		PriorityPendingFilteredGroup, PriorityPendingAllUsers:
		return true
	}
	return false
}

func (p MessagePriority) String() string {
	switch p {
	case PriorityImmediateSingleUser:
		return "immediate-single-user"
	case PriorityPendingSingleUser:
		return "pending-single-user"
	case PriorityPendingFilteredGroup:
		return "pending-filtered-group"
	case PriorityPendingAllUsers:
		return "pending-all-users"
	}
	return "unknown"
}

// Message is a notification addressed to one user. Text holds the resolved
// body; placeholders are substituted before the row is written.
type Message struct {
	ID         uint            `gorm:"primaryKey;autoIncrement"`
	UUID       string          `gorm:"size:36;not null;uniqueIndex"`
	Theme      string          `gorm:"size:256"`
	Text       string          `gorm:"type:text"`
	Priority   MessagePriority `gorm:"not null;index"`
	IsNotified bool            `gorm:"default:false;index"`
	// DispatchingAt is set while a dispatcher holds the send claim.
	DispatchingAt *time.Time
	IsRead     bool            `gorm:"default:false"`
	ToUserUUID string          `gorm:"size:36;not null;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	ToUser *User `gorm:"foreignKey:ToUserUUID;references:UUID"`
}
