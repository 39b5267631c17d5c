package fingerprint

import (
	"testing"
	"time"

	"github.com/syncpad/syncpad/internal/schema"
)

func datePtr(t *testing.T, s string) *time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad test date %q: %v", s, err)
	}
	return &parsed
}

// TestKey_Normalization tests that title case and surrounding whitespace do
// not affect the key.
func TestKey_Normalization(t *testing.T) {
	m := ContentMatcher{}
	due := datePtr(t, "2024-05-01T00:00:00Z")

	a := &schema.Task{Title: "Buy milk", DueDate: due, Urgency: 2}
	b := &schema.Task{Title: "  buy MILK  ", DueDate: due, Urgency: 2}

	if m.Key(a) != m.Key(b) {
		t.Errorf("keys differ: %q vs %q", m.Key(a), m.Key(b))
	}
}

// TestKey_Distinguishes tests that each content field participates in the key.
func TestKey_Distinguishes(t *testing.T) {
	m := ContentMatcher{}
	due := datePtr(t, "2024-05-01T00:00:00Z")
	base := &schema.Task{Title: "Buy milk", DueDate: due, Urgency: 2}

	tests := []struct {
		name string
		task *schema.Task
	}{
		{"different title", &schema.Task{Title: "Buy bread", DueDate: due, Urgency: 2}},
		{"different date", &schema.Task{Title: "Buy milk", DueDate: datePtr(t, "2024-05-02T00:00:00Z"), Urgency: 2}},
		{"nil date", &schema.Task{Title: "Buy milk", Urgency: 2}},
		{"different urgency", &schema.Task{Title: "Buy milk", DueDate: due, Urgency: 2.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if m.Key(tt.task) == m.Key(base) {
				t.Errorf("key %q should differ from base", m.Key(tt.task))
			}
		})
	}
}

// TestKey_UrgencyDefault tests that a missing urgency is keyed as 1.
func TestKey_UrgencyDefault(t *testing.T) {
	m := ContentMatcher{}

	missing := &schema.Task{Title: "Water plants"}
	explicit := &schema.Task{Title: "Water plants", Urgency: 1}

	if m.Key(missing) != m.Key(explicit) {
		t.Errorf("zero urgency key %q != explicit urgency-1 key %q", m.Key(missing), m.Key(explicit))
	}
}

// TestKey_EmptyTitle tests that a missing title does not panic and yields a
// stable key.
func TestKey_EmptyTitle(t *testing.T) {
	m := ContentMatcher{}
	got := m.Key(&schema.Task{})
	want := "__1"
	if got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

// TestKey_DateFormatting tests that equal instants in different zones match.
func TestKey_DateFormatting(t *testing.T) {
	m := ContentMatcher{}

	utc := datePtr(t, "2024-05-01T10:00:00Z")
	offset := datePtr(t, "2024-05-01T12:00:00+02:00")

	a := &schema.Task{Title: "Call dentist", DueDate: utc, Urgency: 3}
	b := &schema.Task{Title: "Call dentist", DueDate: offset, Urgency: 3}

	if m.Key(a) != m.Key(b) {
		t.Errorf("same instant produced different keys: %q vs %q", m.Key(a), m.Key(b))
	}
}

// TestIndex_LatestUpdateWins tests the duplicate tie-break.
func TestIndex_LatestUpdateWins(t *testing.T) {
	m := ContentMatcher{}
	older := &schema.Task{ID: "a", Title: "Buy milk", Urgency: 2, UpdatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	newer := &schema.Task{ID: "b", Title: "buy milk", Urgency: 2, UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	for _, order := range [][]*schema.Task{{older, newer}, {newer, older}} {
		idx := Index(m, order)
		if len(idx) != 1 {
			t.Fatalf("Index() size = %d, want 1", len(idx))
		}
		got := idx[m.Key(older)]
		if got.ID != "b" {
			t.Errorf("surviving duplicate = %q, want %q (most recently updated)", got.ID, "b")
		}
	}
}
