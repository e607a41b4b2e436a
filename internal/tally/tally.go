// Package tally derives per-question results from a poll's vote rows.
//
// A State is built from a poll definition and then fed vote rows one at a
// time through Apply. Applying the same set of rows in any order, with any
// number of repeats, yields the same Snapshot as a full Compute over the
// stored rows. State is not safe for concurrent use; the live package owns
// one State per poll inside a single goroutine.
package tally

import (
	"errors"
	"sort"
	"time"

	"github.com/tbourn/go-poll-backend/internal/domain"
)

// ErrUnknownReference is returned by Apply when a row points at a question
// or option the State does not know. The definition is out of date and the
// caller should rebuild from the store.
var ErrUnknownReference = errors.New("vote references unknown question or option")

// Snapshot is an immutable view of a poll's tally.
type Snapshot struct {
	PollID      string          `json:"poll_id"`
	Rows        int             `json:"rows"`         // vote rows applied
	TotalVoters int             `json:"total_voters"` // distinct voter keys across the poll
	Questions   []QuestionTally `json:"questions"`
}

// QuestionTally holds one question's result. Choice questions fill
// TotalVoters and Options; text questions fill TotalResponses and Answers.
type QuestionTally struct {
	QuestionID     string              `json:"question_id"`
	Position       int                 `json:"position"`
	Type           domain.QuestionType `json:"type"`
	Prompt         string              `json:"prompt"`
	TotalVoters    int                 `json:"total_voters"`
	Options        []OptionTally       `json:"options,omitempty"`
	TotalResponses int                 `json:"total_responses"`
	Answers        []string            `json:"answers,omitempty"`
}

// OptionTally is the count for one option. Percent is relative to the
// distinct voters of the question, so multiple-choice percentages may sum
// past 100.
type OptionTally struct {
	OptionID string  `json:"option_id"`
	Label    string  `json:"label"`
	Position int     `json:"position"`
	Count    int     `json:"count"`
	Percent  float64 `json:"percent"`
}

// Option returns the tally row for id.
func (q QuestionTally) Option(id string) (OptionTally, bool) {
	for _, o := range q.Options {
		if o.OptionID == id {
			return o, true
		}
	}
	return OptionTally{}, false
}

// Question returns the tally of the given question.
func (s *Snapshot) Question(id string) (QuestionTally, bool) {
	for _, q := range s.Questions {
		if q.QuestionID == id {
			return q, true
		}
	}
	return QuestionTally{}, false
}

type textAnswer struct {
	at    time.Time
	sub   string
	seq   int
	id    string
	value string
}

type questionState struct {
	q        domain.Question
	optIndex map[string]int
	counts   []int
	voters   map[string]struct{}
	texts    []textAnswer
}

// State accumulates vote rows for one poll definition.
type State struct {
	pollID    string
	questions []*questionState
	byID      map[string]*questionState
	voters    map[string]struct{}
	seen      map[string]struct{}
}

// New prepares an empty State for def. def.Questions must be loaded and
// ordered by position.
func New(def *domain.Poll) *State {
	s := &State{
		pollID: def.ID,
		byID:   make(map[string]*questionState, len(def.Questions)),
		voters: make(map[string]struct{}),
		seen:   make(map[string]struct{}),
	}
	for _, q := range def.Questions {
		qs := &questionState{
			q:        q,
			optIndex: make(map[string]int, len(q.Options)),
			counts:   make([]int, len(q.Options)),
			voters:   make(map[string]struct{}),
		}
		for i, o := range q.Options {
			qs.optIndex[o.ID] = i
		}
		s.questions = append(s.questions, qs)
		s.byID[q.ID] = qs
	}
	return s
}

// Rows returns the number of distinct vote rows applied so far.
func (s *State) Rows() int { return len(s.seen) }

// Apply folds one vote row into the State. It reports false for rows that
// were already applied. A row that does not match the definition is
// rejected with ErrUnknownReference and leaves the State unchanged.
func (s *State) Apply(v domain.Vote) (bool, error) {
	if _, dup := s.seen[v.ID]; dup {
		return false, nil
	}
	if v.PollID != s.pollID {
		return false, ErrUnknownReference
	}
	qs, ok := s.byID[v.QuestionID]
	if !ok {
		return false, ErrUnknownReference
	}

	if qs.q.Type.IsChoice() {
		if v.OptionID == nil || v.TextResponse != nil {
			return false, ErrUnknownReference
		}
		idx, ok := qs.optIndex[*v.OptionID]
		if !ok {
			return false, ErrUnknownReference
		}
		qs.counts[idx]++
	} else {
		if v.TextResponse == nil || v.OptionID != nil {
			return false, ErrUnknownReference
		}
		qs.texts = append(qs.texts, textAnswer{
			at: v.CreatedAt, sub: v.SubmissionID, seq: v.Seq, id: v.ID, value: *v.TextResponse,
		})
	}
	qs.voters[v.VoterKey] = struct{}{}
	s.voters[v.VoterKey] = struct{}{}
	s.seen[v.ID] = struct{}{}
	return true, nil
}

// Snapshot copies the current result. Options are ordered by descending
// count with ties kept in option position order; text answers are ordered
// like the store lists them (created, submission, seq, id).
func (s *State) Snapshot() *Snapshot {
	out := &Snapshot{
		PollID:      s.pollID,
		Rows:        len(s.seen),
		TotalVoters: len(s.voters),
		Questions:   make([]QuestionTally, 0, len(s.questions)),
	}
	for _, qs := range s.questions {
		qt := QuestionTally{
			QuestionID: qs.q.ID,
			Position:   qs.q.Position,
			Type:       qs.q.Type,
			Prompt:     qs.q.Prompt,
		}
		if qs.q.Type.IsChoice() {
			distinct := len(qs.voters)
			qt.TotalVoters = distinct
			qt.Options = make([]OptionTally, len(qs.q.Options))
			for i, o := range qs.q.Options {
				ot := OptionTally{OptionID: o.ID, Label: o.Label, Position: o.Position, Count: qs.counts[i]}
				if distinct > 0 {
					ot.Percent = float64(ot.Count) / float64(distinct) * 100
				}
				qt.Options[i] = ot
			}
			sort.SliceStable(qt.Options, func(i, j int) bool {
				return qt.Options[i].Count > qt.Options[j].Count
			})
		} else {
			texts := append([]textAnswer(nil), qs.texts...)
			sort.Slice(texts, func(i, j int) bool {
				a, b := texts[i], texts[j]
				if !a.at.Equal(b.at) {
					return a.at.Before(b.at)
				}
				if a.sub != b.sub {
					return a.sub < b.sub
				}
				if a.seq != b.seq {
					return a.seq < b.seq
				}
				return a.id < b.id
			})
			qt.TotalResponses = len(texts)
			qt.Answers = make([]string, len(texts))
			for i, t := range texts {
				qt.Answers[i] = t.value
			}
		}
		out.Questions = append(out.Questions, qt)
	}
	return out
}

// Compute builds a State from scratch over votes. Rows that do not match the
// definition are skipped and counted in skipped; a non-zero value means def
// is older than the votes.
func Compute(def *domain.Poll, votes []domain.Vote) (st *State, skipped int) {
	st = New(def)
	for _, v := range votes {
		if _, err := st.Apply(v); err != nil {
			skipped++
		}
	}
	return st, skipped
}
