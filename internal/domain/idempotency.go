package domain

import "time"

// Idempotency records the submission produced for a client-supplied
// Idempotency-Key, keyed by (voter_key, poll_id, key). A retried vote with
// the same key is answered from the stored receipt instead of being
// rejected as a duplicate.
type Idempotency struct {
	ID           string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	VoterKey     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_voter_poll_key,priority:1"`
	PollID       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_voter_poll_key,priority:2"`
	Key          string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_voter_poll_key,priority:3"`
	SubmissionID string    `gorm:"type:TEXT NOT NULL"`
	Status       int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt    time.Time `gorm:"type:TIMESTAMP NOT NULL;autoCreateTime"`
	ExpiresAt    time.Time `gorm:"type:TIMESTAMP NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
