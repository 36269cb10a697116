// Package queue defines the jobs Signalbox runs, their priorities, and an
// in-process priority worker pool that executes them.
package queue

import "github.com/zulandar/signalbox/internal/models"

// Kind names a job type.
type Kind string

const (
	KindSendEmail      Kind = "send_email"
	KindSendImmediate  Kind = "send_immediate"
	KindSendPending    Kind = "send_pending"
	KindRescanAll      Kind = "rescan_all"
	KindSendToUserList Kind = "send_to_user_list"
	KindSendToAllUsers Kind = "send_to_all_users"
	KindRescanBatch    Kind = "rescan_batch"
)

// Kinds lists every job kind.
var Kinds = []Kind{
	KindSendEmail,
	KindSendImmediate,
	KindSendPending,
	KindRescanAll,
	KindSendToUserList,
	KindSendToAllUsers,
	KindRescanBatch,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return PriorityFor(k) != 0
}

// Priority orders jobs; a lower value is dequeued first.
type Priority int

var priorities = map[Kind]Priority{
	KindSendEmail:      1,
	KindSendImmediate:  2,
	KindSendPending:    3,
	KindRescanAll:      4,
	KindSendToUserList: 5,
	KindSendToAllUsers: 6,
	// Rescan batches normally carry their partition's class; see NewRescanJob.
	KindRescanBatch: 4,
}

// PriorityFor returns the queue priority of kind, or 0 for an unknown kind.
func PriorityFor(kind Kind) Priority {
	return priorities[kind]
}

// PriorityForClass maps a pending message class onto the queue priority its
// rescan batch runs at.
func PriorityForClass(class models.MessagePriority) Priority {
	return Priority(class)
}
