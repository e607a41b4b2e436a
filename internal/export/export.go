// Package export reshapes a poll's vote rows into one row per voter and
// serializes the result as CSV.
package export

import (
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/tbourn/go-poll-backend/internal/domain"
)

// Placeholders used when a reference or identity cannot be resolved.
const (
	UnknownOption  = "Unknown Option"
	AnonymousLabel = "Anonymous"
	Delimiter      = "; "
)

// Table is the export shape: a header row plus one row per voter.
type Table struct {
	Header []string
	Rows   [][]string
}

type voterGroup struct {
	voterID string
	latest  time.Time
	cells   [][]string // per question column, answers in row order
}

// Build groups votes by voter key. Columns are Timestamp, Voter, then one per
// question in position order. Rows follow the first appearance of each voter
// in votes. labels maps account ids to display labels and may be nil.
func Build(def *domain.Poll, votes []domain.Vote, labels map[string]string) *Table {
	col := make(map[string]int, len(def.Questions))
	optLabel := make(map[string]string)
	header := make([]string, 0, len(def.Questions)+2)
	header = append(header, "Timestamp", "Voter")
	for i, q := range def.Questions {
		col[q.ID] = i
		header = append(header, q.Prompt)
		for _, o := range q.Options {
			optLabel[o.ID] = o.Label
		}
	}

	var order []string
	groups := make(map[string]*voterGroup)
	for _, v := range votes {
		g, ok := groups[v.VoterKey]
		if !ok {
			g = &voterGroup{cells: make([][]string, len(def.Questions))}
			groups[v.VoterKey] = g
			order = append(order, v.VoterKey)
		}
		if v.CreatedAt.After(g.latest) {
			g.latest = v.CreatedAt
		}
		if g.voterID == "" && v.VoterID != nil {
			g.voterID = *v.VoterID
		}

		i, ok := col[v.QuestionID]
		if !ok {
			continue
		}
		g.cells[i] = append(g.cells[i], answerText(v, optLabel))
	}

	t := &Table{Header: header, Rows: make([][]string, 0, len(order))}
	for _, key := range order {
		g := groups[key]
		row := make([]string, 0, len(header))
		row = append(row, g.latest.UTC().Format(time.RFC3339), voterLabel(g.voterID, labels))
		for _, answers := range g.cells {
			row = append(row, strings.Join(answers, Delimiter))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func answerText(v domain.Vote, optLabel map[string]string) string {
	if v.TextResponse != nil {
		return *v.TextResponse
	}
	if v.OptionID != nil {
		if l, ok := optLabel[*v.OptionID]; ok {
			return l
		}
	}
	return UnknownOption
}

func voterLabel(voterID string, labels map[string]string) string {
	if voterID == "" {
		return AnonymousLabel
	}
	if l, ok := labels[voterID]; ok && l != "" {
		return l
	}
	return AnonymousLabel
}

// WriteCSV writes the header and rows using RFC 4180 quoting.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}
