// Package domain defines the persistence models for polls, their questions
// and options, recorded votes, and voter profiles. These types are mapped
// with GORM and form the core data layer of the poll service.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// QuestionType enumerates the supported answer shapes.
type QuestionType string

const (
	QuestionSingle   QuestionType = "single"
	QuestionMultiple QuestionType = "multiple"
	QuestionText     QuestionType = "text"
)

// IsChoice reports whether answers reference options.
func (t QuestionType) IsChoice() bool {
	return t == QuestionSingle || t == QuestionMultiple
}

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	return t.IsChoice() || t == QuestionText
}

// Poll is an organizer-defined set of questions open to voters.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - CreatorID: identity of the organizer; indexed for the dashboard.
//   - TemplateType: free-form template tag chosen at authoring time.
//   - RequiresLogin: anonymous voters are refused when set.
//   - AllowedDomains: optional email-domain allow-list (JSON array column).
//   - ShowResultsInstant: results are visible to voters while open.
//   - ExpiresAt: optional voting deadline.
//   - IsClosed: manual close switch.
type Poll struct {
	ID                 string                      `json:"id"                   gorm:"type:char(36);primaryKey"`
	CreatorID          string                      `json:"creator_id"           gorm:"type:varchar(64);not null;index:idx_creator_polls,priority:1"`
	Title              string                      `json:"title"                gorm:"type:varchar(255);not null"`
	Description        string                      `json:"description"          gorm:"type:text;not null;default:''"`
	TemplateType       string                      `json:"template_type"        gorm:"type:varchar(32);not null;default:'custom'"`
	RequiresLogin      bool                        `json:"requires_login"       gorm:"not null;default:false"`
	AllowedDomains     datatypes.JSONSlice[string] `json:"allowed_domains"      gorm:"type:json"`
	ShowResultsInstant bool                        `json:"show_results_instant" gorm:"not null;default:false"`
	ExpiresAt          *time.Time                  `json:"expires_at"`
	IsClosed           bool                        `json:"is_closed"            gorm:"not null;default:false"`
	CreatedAt          time.Time                   `json:"created_at"           gorm:"index:idx_creator_polls,priority:2"`
	UpdatedAt          time.Time                   `json:"updated_at"`

	// Questions is populated by the repository when a full definition is
	// loaded; it is never written through an association.
	Questions []Question `json:"questions,omitempty" gorm:"-"`
}

// TableName returns the database table name for Poll.
func (Poll) TableName() string { return "polls" }

// OpenAt reports whether the poll accepts votes at the given instant.
func (p *Poll) OpenAt(now time.Time) bool {
	if p.IsClosed {
		return false
	}
	return p.ExpiresAt == nil || now.Before(*p.ExpiresAt)
}

// Question belongs to exactly one poll. Position is unique per poll and
// defines display and export order.
type Question struct {
	ID         string       `json:"id"          gorm:"type:char(36);primaryKey"`
	PollID     string       `json:"poll_id"     gorm:"type:char(36);not null;uniqueIndex:ux_question_position,priority:1"`
	Position   int          `json:"position"    gorm:"not null;uniqueIndex:ux_question_position,priority:2"`
	Type       QuestionType `json:"type"        gorm:"type:varchar(16);not null;check:type IN ('single','multiple','text')"`
	IsRequired bool         `json:"is_required" gorm:"not null;default:false"`
	Prompt     string       `json:"prompt"      gorm:"type:text;not null"`

	// Options is populated by the repository; empty for text questions.
	Options []Option `json:"options,omitempty" gorm:"-"`

	// Poll is the owning poll. Questions are cascade-deleted with it.
	Poll Poll `json:"-" gorm:"foreignKey:PollID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Question.
func (Question) TableName() string { return "questions" }

// Option is a selectable answer of a choice question.
type Option struct {
	ID         string `json:"id"          gorm:"type:char(36);primaryKey"`
	QuestionID string `json:"question_id" gorm:"type:char(36);not null;uniqueIndex:ux_option_position,priority:1"`
	Position   int    `json:"position"    gorm:"not null;uniqueIndex:ux_option_position,priority:2"`
	Label      string `json:"label"       gorm:"type:varchar(255);not null"`

	Question Question `json:"-" gorm:"foreignKey:QuestionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Option.
func (Option) TableName() string { return "options" }

// Submission records one accepted answer batch. DedupeKey is the voter key
// for authenticated voters and the submission ID otherwise, so the unique
// index rejects a second batch from the same account on the same poll.
type Submission struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	PollID    string    `json:"poll_id"    gorm:"type:char(36);not null;uniqueIndex:ux_submission_poll_dedupe,priority:1"`
	DedupeKey string    `json:"-"          gorm:"type:varchar(160);not null;uniqueIndex:ux_submission_poll_dedupe,priority:2"`
	VoterKey  string    `json:"voter_key"  gorm:"type:varchar(160);not null"`
	VoterID   *string   `json:"voter_id"   gorm:"type:varchar(64)"`
	CreatedAt time.Time `json:"created_at"`

	Poll Poll `json:"-" gorm:"foreignKey:PollID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Submission.
func (Submission) TableName() string { return "submissions" }

// Vote is an append-only answer row. Exactly one of OptionID and
// TextResponse is set. A multiple-choice answer yields one row per selected
// option, all sharing SubmissionID and QuestionID.
type Vote struct {
	ID           string    `json:"id"                      gorm:"type:char(36);primaryKey"`
	PollID       string    `json:"poll_id"                 gorm:"type:char(36);not null;index:idx_poll_votes,priority:1;index:idx_poll_voter,priority:1"`
	QuestionID   string    `json:"question_id"             gorm:"type:char(36);not null;index"`
	OptionID     *string   `json:"option_id,omitempty"     gorm:"type:char(36)"`
	TextResponse *string   `json:"text_response,omitempty" gorm:"type:text"`
	VoterKey     string    `json:"voter_key"               gorm:"type:varchar(160);not null;index:idx_poll_voter,priority:2"`
	VoterID      *string   `json:"voter_id,omitempty"      gorm:"type:varchar(64)"`
	SubmissionID string    `json:"submission_id"           gorm:"type:char(36);not null;index"`
	Seq          int       `json:"seq"                     gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"              gorm:"index:idx_poll_votes,priority:2"`

	Question   Question   `json:"-" gorm:"foreignKey:QuestionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Option     *Option    `json:"-" gorm:"foreignKey:OptionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Submission Submission `json:"-" gorm:"foreignKey:SubmissionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Vote.
func (Vote) TableName() string { return "votes" }

// IsText reports whether the row carries a free-text answer.
func (v *Vote) IsText() bool { return v.TextResponse != nil }

// Profile caches the account label shown in exports.
type Profile struct {
	ID          string    `json:"id"           gorm:"type:varchar(64);primaryKey"`
	Email       string    `json:"email"        gorm:"type:varchar(320);not null;default:''"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255);not null;default:''"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Profile.
func (Profile) TableName() string { return "profiles" }

// Label returns the display name, falling back to the email.
func (p Profile) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Email
}
