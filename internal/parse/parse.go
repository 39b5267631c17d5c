// Package parse turns free-form quick-add input into structured task fields.
//
// Two implementations exist: Heuristic runs entirely locally using a natural
// language date parser and an inline urgency marker, and AI delegates to a
// language model and falls back to Heuristic when the model is unavailable.
package parse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/syncpad/syncpad/internal/schema"
)

// Result holds the structured fields extracted from quick-add input. The
// title never contains the date or urgency text that produced the other
// fields.
type Result struct {
	Title   string     `json:"title"`
	DueDate *time.Time `json:"dueDate,omitempty"`
	Urgency float64    `json:"urgency"`
}

// Parser extracts task fields from free-form input. The base time anchors
// relative expressions like "tomorrow".
type Parser interface {
	Parse(ctx context.Context, input string, base time.Time) (*Result, error)
}

// ErrEmptyTitle is returned when stripping the date and urgency markers
// leaves no title text.
var ErrEmptyTitle = errors.New("input has no title text")

// urgencyPattern matches an inline urgency marker like "!3" or "!4.5".
var urgencyPattern = regexp.MustCompile(`(?:^|\s)!([1-5](?:\.\d)?)\b`)

// Heuristic parses input locally. Dates come from a natural language parser
// ("tomorrow at 5pm", "next friday"); urgency from a "!n" marker.
type Heuristic struct {
	w *when.Parser
}

// NewHeuristic creates a local parser with English and common date rules.
func NewHeuristic() *Heuristic {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Heuristic{w: w}
}

// Parse implements Parser.
func (h *Heuristic) Parse(_ context.Context, input string, base time.Time) (*Result, error) {
	title := strings.TrimSpace(input)
	res := &Result{Urgency: schema.MinUrgency}

	if m := urgencyPattern.FindStringSubmatch(title); m != nil {
		u, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			res.Urgency = u
		}
		title = strings.TrimSpace(strings.Replace(title, m[0], " ", 1))
	}

	if r, err := h.w.Parse(title, base); err == nil && r != nil {
		due := r.Time
		res.DueDate = &due
		title = strings.TrimSpace(title[:r.Index] + title[r.Index+len(r.Text):])
	}

	title = strings.TrimSpace(strings.Trim(title, ",.;:"))
	if title == "" {
		return nil, ErrEmptyTitle
	}
	res.Title = title
	return res, nil
}

var _ Parser = (*Heuristic)(nil)

func clampUrgency(u float64) float64 {
	if u < schema.MinUrgency {
		return schema.MinUrgency
	}
	if u > schema.MaxUrgency {
		return schema.MaxUrgency
	}
	return u
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", s)
}
