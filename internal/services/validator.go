package services

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-poll-backend/internal/domain"
)

// Answer is the normalized answer to one question. Choice questions use
// OptionIDs; text questions use Text.
type Answer struct {
	OptionIDs []string `json:"option_ids,omitempty"`
	Text      string   `json:"text,omitempty"`
}

func (a Answer) hasOptions() bool { return len(a.OptionIDs) > 0 }

func (a Answer) hasText() bool { return strings.TrimSpace(a.Text) != "" }

// Validate checks answers against the poll definition and returns the vote
// rows to insert, one per selected option or text answer, in question order
// with Seq numbering the batch. The rows carry only QuestionID, OptionID or
// TextResponse, and Seq; the caller stamps identity and batch fields.
//
// Every violation is collected. EmptySubmission is reported only when the
// answers are otherwise valid and produce no rows.
func Validate(def *domain.Poll, answers map[string]Answer) ([]domain.Vote, error) {
	verr := &ValidationError{}
	add := func(code ViolationCode, qid, oid, format string, args ...any) {
		verr.Violations = append(verr.Violations, Violation{
			Code:       code,
			QuestionID: qid,
			OptionID:   oid,
			Message:    fmt.Sprintf(format, args...),
		})
	}

	known := make(map[string]struct{}, len(def.Questions))
	for _, q := range def.Questions {
		known[q.ID] = struct{}{}
	}
	for qid := range answers {
		if _, ok := known[qid]; !ok {
			add(InvalidReference, qid, "", "question %s does not belong to this poll", qid)
		}
	}

	qs := make([]domain.Question, len(def.Questions))
	copy(qs, def.Questions)
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].Position < qs[j].Position })

	var votes []domain.Vote
	seq := 0
	for _, q := range qs {
		a, answered := answers[q.ID]

		if q.Type == domain.QuestionText {
			if answered && a.hasOptions() {
				add(MixedAnswerKind, q.ID, "", "question %s expects text, not options", q.ID)
				continue
			}
			if !answered || !a.hasText() {
				if q.IsRequired {
					add(MissingRequired, q.ID, "", "question %s requires an answer", q.ID)
				}
				continue
			}
			text := norm.NFC.String(strings.TrimSpace(a.Text))
			votes = append(votes, domain.Vote{QuestionID: q.ID, TextResponse: &text, Seq: seq})
			seq++
			continue
		}

		if answered && a.hasText() {
			add(MixedAnswerKind, q.ID, "", "question %s expects options, not text", q.ID)
			continue
		}
		if !answered || !a.hasOptions() {
			if q.IsRequired {
				add(MissingRequired, q.ID, "", "question %s requires an answer", q.ID)
			}
			continue
		}

		position := make(map[string]int, len(q.Options))
		for _, o := range q.Options {
			position[o.ID] = o.Position
		}
		picked := make(map[string]struct{}, len(a.OptionIDs))
		var selected []string
		bad := false
		for _, oid := range a.OptionIDs {
			oid = strings.TrimSpace(oid)
			if _, ok := position[oid]; !ok {
				add(InvalidReference, q.ID, oid, "option %q does not belong to question %s", oid, q.ID)
				bad = true
				continue
			}
			if _, dup := picked[oid]; dup {
				continue
			}
			picked[oid] = struct{}{}
			selected = append(selected, oid)
		}
		if bad {
			continue
		}
		if q.Type == domain.QuestionSingle && len(selected) != 1 {
			add(InvalidReference, q.ID, "", "question %s accepts exactly one option", q.ID)
			continue
		}

		sort.SliceStable(selected, func(i, j int) bool { return position[selected[i]] < position[selected[j]] })
		for _, oid := range selected {
			id := oid
			votes = append(votes, domain.Vote{QuestionID: q.ID, OptionID: &id, Seq: seq})
			seq++
		}
	}

	if len(verr.Violations) > 0 {
		verr.sort()
		return nil, verr
	}
	if len(votes) == 0 {
		return nil, &ValidationError{Violations: []Violation{{
			Code:    EmptySubmission,
			Message: "at least one question must be answered",
		}}}
	}
	return votes, nil
}
