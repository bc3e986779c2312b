package domain

import "time"

// FollowupStatus is the lifecycle of one FollowupQueueItem.
type FollowupStatus string

const (
	FollowupPending    FollowupStatus = "pending"
	FollowupProcessing FollowupStatus = "processing"
	FollowupSent       FollowupStatus = "sent"
	FollowupFailed     FollowupStatus = "failed"
	FollowupCanceled   FollowupStatus = "canceled"
)

// FollowupRule configures one inactivity-triggered nudge for a centurion.
type FollowupRule struct {
	ID              string
	CenturionID     string
	InactivityHours float64
	Template        string
	MaxAttempts     int
	IsActive        bool
}

// FollowupQueueItem is one scheduled or executed follow-up attempt.
type FollowupQueueItem struct {
	ID            string
	CompanyID     string
	LeadID        string
	RuleID        string
	ScheduledAt   time.Time
	AttemptNumber int
	Status        FollowupStatus
	MessageID     string
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
