// Package fingerprint derives the de-duplication key used to decide whether
// two independently-identified task records are "the same" task.
//
// Local and remote copies of one task are created independently and receive
// different identifiers, so identity cannot be keyed on ID. The fingerprint
// is a deterministic string over the semantically meaningful fields instead:
// normalized title, due date, and urgency.
//
// This is a heuristic merge key, not a cryptographic hash. Two unrelated
// tasks sharing title, date, and urgency collide, and that is an accepted
// limitation. The Matcher interface exists so a stronger strategy (for
// example a server-supplied idempotency key) can replace it without touching
// call sites.
package fingerprint

import (
	"strconv"
	"strings"
	"time"

	"github.com/syncpad/syncpad/internal/schema"
)

// Matcher produces a deterministic key from a task's content.
type Matcher interface {
	// Key returns the fingerprint for the task. Two tasks with identical
	// title (modulo case and surrounding whitespace), due date, and urgency
	// always produce equal keys, regardless of identifier or origin.
	Key(t *schema.Task) string
}

// ContentMatcher is the default Matcher:
//
//	lowercase(trim(title)) + "_" + dueDate + "_" + urgency
//
// A nil due date contributes an empty segment. A zero urgency is treated
// as 1 so tasks created before urgency existed still match their uploaded
// copies.
type ContentMatcher struct{}

// Key implements Matcher.
func (ContentMatcher) Key(t *schema.Task) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(t.Title)))
	b.WriteByte('_')
	if t.DueDate != nil {
		b.WriteString(t.DueDate.UTC().Format(time.RFC3339))
	}
	b.WriteByte('_')
	urgency := t.Urgency
	if urgency == 0 {
		urgency = 1
	}
	b.WriteString(strconv.FormatFloat(urgency, 'f', -1, 64))
	return b.String()
}

// Index builds a fingerprint-to-task map over the given collection.
//
// When two tasks share a fingerprint the one with the later UpdatedAt wins.
// This makes the duplicate tie-break explicit rather than depending on
// iteration order; see the reconciler's dedup pass.
func Index(m Matcher, tasks []*schema.Task) map[string]*schema.Task {
	idx := make(map[string]*schema.Task, len(tasks))
	for _, t := range tasks {
		key := m.Key(t)
		if prev, ok := idx[key]; ok && !t.UpdatedAt.After(prev.UpdatedAt) {
			continue
		}
		idx[key] = t
	}
	return idx
}
